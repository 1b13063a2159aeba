// Package modelregistry implements the paired training/inference model
// entries of §4.E: one exclusive writer (a trainer) and many concurrent
// readers (the interaction loop), with atomic parameter publishing.
package modelregistry

import (
	"fmt"
	"sync"
)

// Model is the persistable contract both the training and inference side
// of an entry satisfy. CopyParamsTo mirrors the receiver's current
// parameters onto dst; it is the operation publish() uses to bring the
// inference side up to date with the training side.
type Model interface {
	CopyParamsTo(dst Model)
	SaveTo(dir string) error
	LoadFrom(dir string) error
}

// Entry is a named pair of training/inference models sharing an identity.
type Entry struct {
	name         string
	hasInference bool

	trainingLock sync.Mutex
	training     Model

	mu         sync.RWMutex
	inference  Model
	publishSeq uint64
}

// newEntry constructs an Entry. If hasInference is false the entry is
// trainer-private: publish becomes a no-op and InferenceView always fails.
func newEntry(name string, training, inference Model, hasInference bool) *Entry {
	return &Entry{
		name:         name,
		hasInference: hasInference,
		training:     training,
		inference:    inference,
	}
}

func (e *Entry) Name() string { return e.name }

func (e *Entry) HasInference() bool { return e.hasInference }

// PublishSeq returns the current publish counter value.
func (e *Entry) PublishSeq() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.publishSeq
}

// TrainingView acquires the exclusive training-side lock. The caller must
// call Release when done; per §4.E deadlock policy, callers must collect
// any data-fabric consumer snapshot first and acquire the training view
// only afterward.
func (e *Entry) TrainingView() *TrainingView {
	e.trainingLock.Lock()
	return &TrainingView{entry: e}
}

// InferenceView acquires a shared read lock on the inference side. Many
// concurrent readers are permitted; none observes a partial publish.
func (e *Entry) InferenceView() (*InferenceView, error) {
	if !e.hasInference {
		return nil, fmt.Errorf("modelregistry: entry %q has no inference side", e.name)
	}
	e.mu.RLock()
	return &InferenceView{entry: e}, nil
}

// Publish mirrors the training side's current parameters onto the
// inference side and increments publish_seq. It blocks until no inference
// reader is active. No-op for entries with has_inference == false. Must
// be called while holding the training view, never from within an
// inference-read critical section (that would deadlock against this
// exclusive lock).
func (tv *TrainingView) Publish() uint64 {
	e := tv.entry
	if !e.hasInference {
		return e.PublishSeq()
	}
	e.mu.Lock()
	e.training.CopyParamsTo(e.inference)
	e.publishSeq++
	seq := e.publishSeq
	e.mu.Unlock()
	return seq
}

// Model returns the underlying training model for direct mutation.
func (tv *TrainingView) Model() Model { return tv.entry.training }

// TrainingView is the exclusive-write handle over an entry's training
// side.
type TrainingView struct {
	entry *Entry
}

// Release gives up the exclusive training lock. A publish may proceed
// only once released (or from within the held view, via Publish).
func (tv *TrainingView) Release() {
	tv.entry.trainingLock.Unlock()
}

// InferenceView is a shared-read handle over an entry's inference side.
type InferenceView struct {
	entry *Entry
}

// Model returns the underlying inference model to perform a read with.
func (iv *InferenceView) Model() Model { return iv.entry.inference }

// PublishSeq returns the publish_seq observed as of this view's
// acquisition.
func (iv *InferenceView) PublishSeq() uint64 { return iv.entry.publishSeq }

// Release gives up the shared read lock.
func (iv *InferenceView) Release() {
	iv.entry.mu.RUnlock()
}

// Registry maps name -> Entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a new named entry. training must not be nil; inference
// may be nil only if hasInference is false.
func (r *Registry) Register(name string, training, inference Model, hasInference bool) (*Entry, error) {
	if hasInference && inference == nil {
		return nil, fmt.Errorf("modelregistry: entry %q declares has_inference but inference model is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return nil, fmt.Errorf("modelregistry: entry already registered: %s", name)
	}
	e := newEntry(name, training, inference, hasInference)
	r.entries[name] = e
	return e, nil
}

// Entry looks up a registered entry by name.
func (r *Registry) Entry(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns every registered entry name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// SaveTo persists every registered entry's training (and, if present,
// inference) model under dir/<name>/{training,inference}. Implements
// persistence.Persistable for the whole registry.
func (r *Registry) SaveTo(dir string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.entries {
		sub := dir + "/" + name
		if err := saveEntry(sub, e); err != nil {
			return fmt.Errorf("modelregistry: save %q: %w", name, err)
		}
	}
	return nil
}

func saveEntry(dir string, e *Entry) error {
	e.trainingLock.Lock()
	defer e.trainingLock.Unlock()
	if err := e.training.SaveTo(dir + "/training"); err != nil {
		return err
	}
	if e.hasInference {
		e.mu.RLock()
		defer e.mu.RUnlock()
		if err := e.inference.SaveTo(dir + "/inference"); err != nil {
			return err
		}
	}
	return nil
}

// LoadFrom restores every registered entry from dir, mirroring SaveTo's
// layout.
func (r *Registry) LoadFrom(dir string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.entries {
		sub := dir + "/" + name
		if err := loadEntry(sub, e); err != nil {
			return fmt.Errorf("modelregistry: load %q: %w", name, err)
		}
	}
	return nil
}

func loadEntry(dir string, e *Entry) error {
	e.trainingLock.Lock()
	defer e.trainingLock.Unlock()
	if err := e.training.LoadFrom(dir + "/training"); err != nil {
		return err
	}
	if e.hasInference {
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.inference.LoadFrom(dir + "/inference"); err != nil {
			return err
		}
	}
	return nil
}
