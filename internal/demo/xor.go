// Package demo provides a minimal online learning loop — environment,
// agent, and trainer — exercising a pamiq runtime end to end. It recasts
// XOR from a batch fitness-evaluation problem into this runtime's
// continuous observe/step/affect cycle: the environment streams XOR
// cases one at a time, the agent predicts from the current inference
// snapshot, and the trainer steps the training snapshot toward the right
// answer over the buffered input/target samples.
package demo

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"pamiq/internal/databuffer"
	"pamiq/internal/modelregistry"
)

// xorCases is the XOR ground-truth table: input pair followed by
// expected output.
var xorCases = [][3]float64{
	{0, 0, 0},
	{0, 1, 1},
	{1, 0, 1},
	{1, 1, 0},
}

// Weights is a tiny single-neuron perceptron: two input weights plus a
// bias. It is the Model both sides of the registry entry hold.
type Weights struct {
	mu   sync.RWMutex
	W0   float64
	W1   float64
	Bias float64
}

func NewWeights(seed int64) *Weights {
	r := rand.New(rand.NewSource(seed))
	return &Weights{
		W0:   r.Float64()*2 - 1,
		W1:   r.Float64()*2 - 1,
		Bias: r.Float64()*2 - 1,
	}
}

func (w *Weights) Predict(x0, x1 float64) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sigmoid(w.W0*x0 + w.W1*x1 + w.Bias)
}

func (w *Weights) CopyParamsTo(dst modelregistry.Model) {
	other := dst.(*Weights)
	w.mu.RLock()
	w0, w1, bias := w.W0, w.W1, w.Bias
	w.mu.RUnlock()
	other.mu.Lock()
	other.W0, other.W1, other.Bias = w0, w1, bias
	other.mu.Unlock()
}

func (w *Weights) SaveTo(dir string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, "weights.json"))
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(struct{ W0, W1, Bias float64 }{w.W0, w.W1, w.Bias})
}

func (w *Weights) LoadFrom(dir string) error {
	f, err := os.Open(filepath.Join(dir, "weights.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	var v struct{ W0, W1, Bias float64 }
	if err := json.NewDecoder(f).Decode(&v); err != nil {
		return err
	}
	w.mu.Lock()
	w.W0, w.W1, w.Bias = v.W0, v.W1, v.Bias
	w.mu.Unlock()
	return nil
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// Environment cycles through the XOR truth table, presenting one input
// pair per tick. The agent collects its own prediction tuples into the
// data buffer directly, so Affect only advances the cursor.
type Environment struct {
	idx int
}

func NewEnvironment() *Environment { return &Environment{} }

func (e *Environment) Observe() (any, error) {
	c := xorCases[e.idx%len(xorCases)]
	return [2]float64{c[0], c[1]}, nil
}

func (e *Environment) Affect(_ any) error {
	e.idx++
	return nil
}

// Agent reads the current inference-side weights, predicts, and
// collects an (x0, x1, target, prediction) tuple into the experience
// buffer for the trainer to consume.
type Agent struct {
	entry *modelregistry.Entry
	buf   *databuffer.Buffer
}

func NewAgent(entry *modelregistry.Entry, buf *databuffer.Buffer) *Agent {
	return &Agent{entry: entry, buf: buf}
}

func (a *Agent) Step(obs any) (any, error) {
	in := obs.([2]float64)
	targetF := 0.0
	if in[0] != in[1] {
		targetF = 1.0
	}

	view, err := a.entry.InferenceView()
	if err != nil {
		return nil, fmt.Errorf("demo: inference view: %w", err)
	}
	weights := view.Model().(*Weights)
	pred := weights.Predict(in[0], in[1])
	view.Release()

	if err := a.buf.Collect(databuffer.Tuple{
		"x0": in[0], "x1": in[1], "target": targetF, "prediction": pred,
	}); err != nil {
		return nil, fmt.Errorf("demo: collect: %w", err)
	}
	return pred, nil
}

// Trainer runs one gradient step of perceptron learning over the
// buffered samples each time it fires, then publishes the updated
// weights to the inference side.
type Trainer struct {
	entry *modelregistry.Entry
	buf   *databuffer.Buffer
	rate  float64
}

func NewTrainer(entry *modelregistry.Entry, buf *databuffer.Buffer, rate float64) *Trainer {
	return &Trainer{entry: entry, buf: buf, rate: rate}
}

func (t *Trainer) Train() error {
	data := t.buf.GetData()
	x0s, x1s, targets := data["x0"], data["x1"], data["target"]
	if len(x0s) == 0 {
		return nil
	}

	view := t.entry.TrainingView()
	defer view.Release()
	weights := view.Model().(*Weights)

	var gw0, gw1, gbias float64
	for i := range x0s {
		x0, x1 := x0s[i].(float64), x1s[i].(float64)
		// Predict with the current training weights: the prediction stored
		// in the tuple was made by whatever weights were published when it
		// was collected, and stepping on those stale outputs diverges.
		target, pred := targets[i].(float64), weights.Predict(x0, x1)
		err := target - pred
		gw0 += err * x0
		gw1 += err * x1
		gbias += err
	}
	n := float64(len(x0s))
	weights.mu.Lock()
	weights.W0 += t.rate * gw0 / n
	weights.W1 += t.rate * gw1 / n
	weights.Bias += t.rate * gbias / n
	weights.mu.Unlock()

	view.Publish()
	return nil
}
