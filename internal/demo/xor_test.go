package demo

import (
	"testing"

	"pamiq/internal/databuffer"
	"pamiq/internal/modelregistry"
)

func newTestEntry(t *testing.T) *modelregistry.Entry {
	t.Helper()
	reg := modelregistry.NewRegistry()
	entry, err := reg.Register("policy", NewWeights(1), NewWeights(1), true)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return entry
}

func TestAgentStepCollectsPredictionTuple(t *testing.T) {
	entry := newTestEntry(t)
	buf, err := databuffer.New([]string{"x0", "x1", "target", "prediction"}, 16, databuffer.Queue, 1)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	agent := NewAgent(entry, buf)

	if _, err := agent.Step([2]float64{0, 1}); err != nil {
		t.Fatalf("step: %v", err)
	}
	if buf.Count() != 1 {
		t.Fatalf("expected 1 collected tuple, got %d", buf.Count())
	}
}

func TestTrainerReducesPredictionErrorOverIterations(t *testing.T) {
	entry := newTestEntry(t)
	buf, err := databuffer.New([]string{"x0", "x1", "target", "prediction"}, 64, databuffer.Queue, 1)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	agent := NewAgent(entry, buf)
	trainer := NewTrainer(entry, buf, 2.0)

	errorAt := func() float64 {
		view, err := entry.InferenceView()
		if err != nil {
			t.Fatalf("inference view: %v", err)
		}
		defer view.Release()
		w := view.Model().(*Weights)
		total := 0.0
		for _, c := range xorCases {
			pred := w.Predict(c[0], c[1])
			diff := c[2] - pred
			total += diff * diff
		}
		return total
	}

	before := errorAt()
	for iter := 0; iter < 200; iter++ {
		for _, c := range xorCases {
			if _, err := agent.Step([2]float64{c[0], c[1]}); err != nil {
				t.Fatalf("step: %v", err)
			}
		}
		if err := trainer.Train(); err != nil {
			t.Fatalf("train: %v", err)
		}
	}
	after := errorAt()

	if after >= before {
		t.Fatalf("expected training to reduce squared error: before=%v after=%v", before, after)
	}
}

func TestWeightsSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWeights(7)
	w.W0, w.W1, w.Bias = 0.25, -0.5, 0.75
	if err := w.SaveTo(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := NewWeights(99)
	if err := loaded.LoadFrom(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.W0 != 0.25 || loaded.W1 != -0.5 || loaded.Bias != 0.75 {
		t.Fatalf("unexpected loaded weights: %+v", loaded)
	}
}
