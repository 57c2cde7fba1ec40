package engine_test

import (
	"testing"
	"time"

	"github.com/dstauffer/kiln/internal/engine"
	"github.com/dstauffer/kiln/internal/model"
)

func collect(t *testing.T, ch <-chan engine.Envelope, n int) []engine.Envelope {
	t.Helper()
	var got []engine.Envelope
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case env := <-ch:
			got = append(got, env)
		case <-deadline:
			t.Fatalf("received %d envelopes, want %d", len(got), n)
		}
	}
	return got
}

func TestHubBroadcastAllJobs(t *testing.T) {
	h := engine.NewHub()
	ch1, unsub1 := h.Register("c1", "")
	defer unsub1()
	ch2, unsub2 := h.Register("c2", "")
	defer unsub2()

	h.Broadcast("job-a", model.Event{Status: model.StatusRunning, Epoch: 1})
	h.Broadcast("job-b", model.Event{Status: model.StatusRunning, Epoch: 2})

	for _, ch := range []<-chan engine.Envelope{ch1, ch2} {
		got := collect(t, ch, 2)
		if got[0].JobToken != "job-a" || got[1].JobToken != "job-b" {
			t.Errorf("tokens = [%s, %s], want [job-a, job-b]", got[0].JobToken, got[1].JobToken)
		}
	}
}

func TestHubScopedSubscription(t *testing.T) {
	h := engine.NewHub()
	scoped, unsub := h.Register("c1", "job-a")
	defer unsub()

	h.Broadcast("job-b", model.Event{Status: model.StatusRunning})
	h.Broadcast("job-a", model.Event{Status: model.StatusRunning, Epoch: 3})

	got := collect(t, scoped, 1)
	if got[0].JobToken != "job-a" || got[0].Event.Epoch != 3 {
		t.Errorf("scoped observer got %+v, want job-a epoch 3", got[0])
	}

	select {
	case env := <-scoped:
		t.Errorf("scoped observer received extra envelope %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregister(t *testing.T) {
	h := engine.NewHub()
	ch, unsub := h.Register("c1", "")
	unsub()

	if _, ok := <-ch; ok {
		t.Error("channel still open after unregister")
	}

	// Broadcasting after unregister must not panic or deliver.
	h.Broadcast("job-a", model.Event{Status: model.StatusRunning})
}

func TestHubReregisterSameID(t *testing.T) {
	h := engine.NewHub()
	old, unsubOld := h.Register("c1", "")
	fresh, unsubFresh := h.Register("c1", "")
	defer unsubFresh()

	if _, ok := <-old; ok {
		t.Error("old channel still open after re-register")
	}

	h.Broadcast("job-a", model.Event{Status: model.StatusRunning})
	collect(t, fresh, 1)

	// The old connection's cleanup must not tear down the replacement.
	unsubOld()
	h.Broadcast("job-a", model.Event{Status: model.StatusRunning})
	collect(t, fresh, 1)
}

func TestHubSlowObserverDoesNotBlock(t *testing.T) {
	h := engine.NewHub()
	_, unsubSlow := h.Register("slow", "")
	defer unsubSlow()
	fast, unsubFast := h.Register("fast", "")
	defer unsubFast()

	// Overflow the slow observer's buffer; nothing drains it.
	done := make(chan struct{})
	go func() {
		for i := range 200 {
			h.Broadcast("job-a", model.Event{Status: model.StatusRunning, Epoch: i + 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow observer")
	}

	// The fast observer still gets a full buffer's worth.
	collect(t, fast, 64)
}
