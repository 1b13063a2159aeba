package databuffer

import (
	"fmt"
	"sync"
)

// Collector is the producer-side handle a buffer's owner (the interaction
// loop) uses to append tuples.
type Collector struct {
	name string
	buf  *Buffer
}

func (c *Collector) Name() string { return c.name }

func (c *Collector) Collect(t Tuple) error { return c.buf.Collect(t) }

// User is the consumer-side handle a trainer uses to read snapshots.
type User struct {
	name string
	buf  *Buffer
}

func (u *User) Name() string { return u.name }

func (u *User) GetData() map[string][]any { return u.buf.GetData() }

func (u *User) Count() int { return u.buf.Count() }

// Fabric owns the named buffers of a runtime and publishes a Collector to
// the interaction side and a User to the trainer side for each.
type Fabric struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
}

func NewFabric() *Fabric {
	return &Fabric{buffers: make(map[string]*Buffer)}
}

// Register creates a new named buffer and returns its Collector/User pair.
func (f *Fabric) Register(name string, fields []string, capacity int, policy Policy, seed int64) (*Collector, *User, error) {
	buf, err := New(fields, capacity, policy, seed)
	if err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.buffers[name]; exists {
		return nil, nil, fmt.Errorf("databuffer: buffer already registered: %s", name)
	}
	f.buffers[name] = buf
	return &Collector{name: name, buf: buf}, &User{name: name, buf: buf}, nil
}

// Buffer returns the named buffer, primarily so the persistence controller
// can register it as a Persistable.
func (f *Fabric) Buffer(name string) (*Buffer, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.buffers[name]
	return b, ok
}

// Names returns every registered buffer name.
func (f *Fabric) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.buffers))
	for name := range f.buffers {
		names = append(names, name)
	}
	return names
}
