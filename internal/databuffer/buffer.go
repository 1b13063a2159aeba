// Package databuffer implements the producer/consumer data fabric (§4.D):
// bounded, fixed-schema buffers that the interaction loop writes
// experience tuples into and trainers read consistent snapshots from.
package databuffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
)

// Policy selects the replacement behavior a Buffer uses once it reaches
// capacity.
type Policy int

const (
	// Queue evicts the oldest resident tuple (FIFO) when full.
	Queue Policy = iota
	// RandomReplacement overwrites a uniformly random resident slot when
	// full; insertion order is not preserved.
	RandomReplacement
)

// Tuple is one collected data point: a set of named fields. collect calls
// must supply exactly the buffer's declared field set.
type Tuple map[string]any

// ErrSchemaMismatch is returned by Collect when a tuple's keys do not match
// the buffer's declared field set.
var ErrSchemaMismatch = errors.New("databuffer: tuple fields do not match declared schema")

// Buffer is a bounded, fixed-schema container for Tuples.
type Buffer struct {
	mu         sync.Mutex
	fields     map[string]struct{}
	fieldOrder []string
	capacity   int
	policy     Policy
	rng        *rand.Rand
	data       []Tuple
}

// New constructs a Buffer. capacity must be > 0. fields declares the fixed
// set of field names every collected tuple must carry.
func New(fields []string, capacity int, policy Policy, seed int64) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("databuffer: capacity must be > 0, got %d", capacity)
	}
	set := make(map[string]struct{}, len(fields))
	order := make([]string, len(fields))
	copy(order, fields)
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return &Buffer{
		fields:     set,
		fieldOrder: order,
		capacity:   capacity,
		policy:     policy,
		rng:        rand.New(rand.NewSource(seed)),
		data:       make([]Tuple, 0, capacity),
	}, nil
}

func (b *Buffer) matchesSchema(t Tuple) bool {
	if len(t) != len(b.fields) {
		return false
	}
	for k := range t {
		if _, ok := b.fields[k]; !ok {
			return false
		}
	}
	return true
}

// Collect appends a tuple under the replacement policy. On a Queue buffer,
// two consecutive Collect calls are observed in that order by any
// subsequent GetData; a RandomReplacement buffer keeps only presence, not
// order.
func (b *Buffer) Collect(t Tuple) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.matchesSchema(t) {
		return ErrSchemaMismatch
	}
	cloned := cloneTuple(t)
	switch b.policy {
	case Queue:
		b.data = append(b.data, cloned)
		if len(b.data) > b.capacity {
			b.data = b.data[1:]
		}
	case RandomReplacement:
		if len(b.data) < b.capacity {
			b.data = append(b.data, cloned)
		} else {
			idx := b.rng.Intn(b.capacity)
			b.data[idx] = cloned
		}
	default:
		return fmt.Errorf("databuffer: unknown policy %d", b.policy)
	}
	return nil
}

// GetData returns a per-field snapshot of the buffer's current contents,
// independent of subsequent writes.
func (b *Buffer) GetData() map[string][]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]any, len(b.fieldOrder))
	for _, f := range b.fieldOrder {
		col := make([]any, len(b.data))
		for i, t := range b.data {
			col[i] = t[f]
		}
		out[f] = col
	}
	return out
}

// Count returns the current number of resident tuples.
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Capacity returns the buffer's fixed capacity.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// SaveTo persists buffer contents to dir (implements persistence.Persistable).
// The RNG is not persisted; on LoadFrom the buffer re-seeds from the seed it
// was constructed with, only its data contents round-trip. See DESIGN.md for
// the rationale (spec §9 leaves seed semantics across restores
// implementation-defined).
func (b *Buffer) SaveTo(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, "data.json"))
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(b.data)
}

func (b *Buffer) LoadFrom(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := os.Open(filepath.Join(dir, "data.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	var data []Tuple
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return err
	}
	if len(data) > b.capacity {
		data = data[len(data)-b.capacity:]
	}
	b.data = data
	return nil
}

func cloneTuple(t Tuple) Tuple {
	out := make(Tuple, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
