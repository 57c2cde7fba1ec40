package model

import "fmt"

// Optimizer constants.
const (
	OptimizerSGD  = "sgd"
	OptimizerAdam = "adam"
)

// Default hyperparameter values, applied when a submission omits a key.
const (
	DefaultEpochs       = 5
	DefaultBatchSize    = 64
	DefaultLearningRate = 0.01
	DefaultOptimizer    = OptimizerSGD
	DefaultMomentum     = 0.5
	DefaultDropoutRate  = 0.5
	DefaultHiddenSize   = 128
	DefaultKernelSize   = 3
	DefaultNumLayers    = 2
)

// ValidationError indicates a malformed submission that was rejected before
// any persistence.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Parameters is the flat hyperparameter record attached to a job. It is
// immutable once the job is created.
type Parameters struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	Optimizer    string  `json:"optimizer"`
	Momentum     float64 `json:"momentum"`
	DropoutRate  float64 `json:"dropout_rate"`
	HiddenSize   int     `json:"hidden_size"`
	KernelSize   int     `json:"kernel_size"`
	NumLayers    int     `json:"num_layers"`
	UseScheduler bool    `json:"use_scheduler"`
}

// DefaultParameters returns a Parameters record with every key at its default.
func DefaultParameters() Parameters {
	return Parameters{
		Epochs:       DefaultEpochs,
		BatchSize:    DefaultBatchSize,
		LearningRate: DefaultLearningRate,
		Optimizer:    DefaultOptimizer,
		Momentum:     DefaultMomentum,
		DropoutRate:  DefaultDropoutRate,
		HiddenSize:   DefaultHiddenSize,
		KernelSize:   DefaultKernelSize,
		NumLayers:    DefaultNumLayers,
	}
}

// Validate checks the parameter record for the given model kind.
func (p Parameters) Validate(kind string) error {
	if !ValidModelKind(kind) {
		return &ValidationError{Field: "model_kind", Msg: fmt.Sprintf("unsupported model kind %q", kind)}
	}
	if p.Optimizer != OptimizerSGD && p.Optimizer != OptimizerAdam {
		return &ValidationError{Field: "optimizer", Msg: fmt.Sprintf("unsupported optimizer %q", p.Optimizer)}
	}
	if p.Epochs < 1 {
		return &ValidationError{Field: "epochs", Msg: "must be at least 1"}
	}
	if p.BatchSize < 1 {
		return &ValidationError{Field: "batch_size", Msg: "must be at least 1"}
	}
	if p.LearningRate <= 0 {
		return &ValidationError{Field: "learning_rate", Msg: "must be positive"}
	}
	if p.DropoutRate < 0 || p.DropoutRate >= 1 {
		return &ValidationError{Field: "dropout_rate", Msg: "must be in [0, 1)"}
	}
	if p.HiddenSize < 1 {
		return &ValidationError{Field: "hidden_size", Msg: "must be at least 1"}
	}
	if p.KernelSize < 1 {
		return &ValidationError{Field: "kernel_size", Msg: "must be at least 1"}
	}
	if p.NumLayers < 1 {
		return &ValidationError{Field: "num_layers", Msg: "must be at least 1"}
	}
	return nil
}

// coreEqual reports whether the shared core parameters match by value.
func (p Parameters) coreEqual(o Parameters) bool {
	return p.Optimizer == o.Optimizer &&
		p.LearningRate == o.LearningRate &&
		p.BatchSize == o.BatchSize &&
		p.Epochs == o.Epochs
}

// EquivalentForKind reports whether two parameter records describe the same
// training run for the given model kind: all core parameters match, plus the
// kind-specific architecture parameters. MLP and RNN compare hidden_size,
// dropout_rate and num_layers; CNN compares kernel_size.
func (p Parameters) EquivalentForKind(kind string, o Parameters) bool {
	if !p.coreEqual(o) {
		return false
	}
	switch kind {
	case KindMLP, KindRNN:
		return p.HiddenSize == o.HiddenSize &&
			p.DropoutRate == o.DropoutRate &&
			p.NumLayers == o.NumLayers
	case KindCNN:
		return p.KernelSize == o.KernelSize
	}
	return false
}
