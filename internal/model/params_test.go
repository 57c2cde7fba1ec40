package model

import (
	"errors"
	"testing"
)

func TestDefaultParameters(t *testing.T) {
	p := DefaultParameters()

	if p.Epochs != 5 {
		t.Errorf("Epochs = %d, want 5", p.Epochs)
	}
	if p.BatchSize != 64 {
		t.Errorf("BatchSize = %d, want 64", p.BatchSize)
	}
	if p.LearningRate != 0.01 {
		t.Errorf("LearningRate = %v, want 0.01", p.LearningRate)
	}
	if p.Optimizer != OptimizerSGD {
		t.Errorf("Optimizer = %q, want sgd", p.Optimizer)
	}
	if p.Momentum != 0.5 {
		t.Errorf("Momentum = %v, want 0.5", p.Momentum)
	}
	if p.DropoutRate != 0.5 {
		t.Errorf("DropoutRate = %v, want 0.5", p.DropoutRate)
	}
	if p.HiddenSize != 128 {
		t.Errorf("HiddenSize = %d, want 128", p.HiddenSize)
	}
	if p.KernelSize != 3 {
		t.Errorf("KernelSize = %d, want 3", p.KernelSize)
	}
	if p.NumLayers != 2 {
		t.Errorf("NumLayers = %d, want 2", p.NumLayers)
	}
	if p.UseScheduler {
		t.Error("UseScheduler = true, want false")
	}

	if err := p.Validate(KindCNN); err != nil {
		t.Errorf("default parameters failed validation: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		mutate func(*Parameters)
		field  string
	}{
		{"unknown kind", "transformer", func(p *Parameters) {}, "model_kind"},
		{"bad optimizer", KindMLP, func(p *Parameters) { p.Optimizer = "rmsprop" }, "optimizer"},
		{"zero epochs", KindMLP, func(p *Parameters) { p.Epochs = 0 }, "epochs"},
		{"zero batch size", KindCNN, func(p *Parameters) { p.BatchSize = 0 }, "batch_size"},
		{"negative learning rate", KindCNN, func(p *Parameters) { p.LearningRate = -1 }, "learning_rate"},
		{"dropout out of range", KindMLP, func(p *Parameters) { p.DropoutRate = 1.0 }, "dropout_rate"},
		{"zero hidden size", KindRNN, func(p *Parameters) { p.HiddenSize = 0 }, "hidden_size"},
		{"zero kernel size", KindCNN, func(p *Parameters) { p.KernelSize = 0 }, "kernel_size"},
		{"zero layers", KindRNN, func(p *Parameters) { p.NumLayers = 0 }, "num_layers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParameters()
			tt.mutate(&p)

			err := p.Validate(tt.kind)
			if err == nil {
				t.Fatal("Validate returned nil, want error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error %T is not *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestEquivalentForKind(t *testing.T) {
	base := DefaultParameters()

	t.Run("identical parameters are equivalent", func(t *testing.T) {
		for _, kind := range ModelKinds {
			if !base.EquivalentForKind(kind, base) {
				t.Errorf("identical %s parameters not equivalent", kind)
			}
		}
	})

	t.Run("core mismatch is never equivalent", func(t *testing.T) {
		other := base
		other.LearningRate = 0.1
		for _, kind := range ModelKinds {
			if base.EquivalentForKind(kind, other) {
				t.Errorf("%s equivalent despite differing learning rate", kind)
			}
		}
	})

	t.Run("cnn compares kernel size only", func(t *testing.T) {
		other := base
		other.KernelSize = 5
		if base.EquivalentForKind(KindCNN, other) {
			t.Error("cnn equivalent despite differing kernel size")
		}

		// Hidden size is not a CNN architecture knob.
		other = base
		other.HiddenSize = 256
		if !base.EquivalentForKind(KindCNN, other) {
			t.Error("cnn not equivalent despite matching kernel size")
		}
	})

	t.Run("mlp and rnn compare hidden size, dropout and layers", func(t *testing.T) {
		for _, kind := range []string{KindMLP, KindRNN} {
			other := base
			other.NumLayers = 4
			if base.EquivalentForKind(kind, other) {
				t.Errorf("%s equivalent despite differing num layers", kind)
			}

			// Kernel size is not an MLP/RNN architecture knob.
			other = base
			other.KernelSize = 7
			if !base.EquivalentForKind(kind, other) {
				t.Errorf("%s not equivalent despite matching architecture", kind)
			}
		}
	})
}
