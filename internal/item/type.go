package item

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fanling-notes/fanling/internal/protocol"
)

// noCopy makes go vet's copylocks check flag copies of the enclosing struct.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// View selects a presentation of an item.
type View int

const (
	ViewShow View = iota
	ViewEdit
	ViewNew
)

// World is what items need from the component that owns them.
type World interface {
	Resolver
	// Now is the clock used for timestamps and readiness.
	Now() time.Time
	// Persist writes a changed item to the index and the store.
	Persist(ctx context.Context, it *Item) error
	// Present renders an item.
	Present(ctx context.Context, it *Item, v View) (*protocol.Response, error)
}

// Policy is the per-type behaviour that does not belong to an instance.
type Policy interface {
	Kind() Kind
	// MakeBlank returns a new item of the type with default data.
	MakeBlank(t *Type) *Item
	// Validate checks user input for a create or update. Every check runs.
	Validate(base BaseFields, vals map[string]string) *ActionResponse
	// MergeThreeWay merges the data of two divergent versions.
	MergeThreeWay(ancestor, ours, theirs Fields) (Data, error)
}

// Type is the single registered instance for a kind. Never copy one.
type Type struct {
	noCopy noCopy

	kind   Kind
	policy Policy
}

// Kind returns the kind.
func (t *Type) Kind() Kind {
	return t.kind
}

// Name returns the serialized type name.
func (t *Type) Name() string {
	return t.kind.String()
}

// Policy returns the type's policy.
func (t *Type) Policy() Policy {
	return t.policy
}

// MakeBlank returns a new item of the type.
func (t *Type) MakeBlank() *Item {
	return t.policy.MakeBlank(t)
}

// Registry maps kinds to their Type.
type Registry struct {
	mu    sync.RWMutex
	types map[Kind]*Type
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[Kind]*Type)}
}

// DefaultRegistry returns a registry holding Simple and Task.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SimplePolicy{})
	r.Register(TaskPolicy{})
	return r
}

// Register adds a type for the policy's kind. Registering a kind twice
// panics.
func (r *Registry) Register(p Policy) *Type {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p == nil {
		panic("item: Register policy is nil")
	}
	k := p.Kind()
	if _, exists := r.types[k]; exists {
		panic(fmt.Sprintf("item: Register called twice for kind %s", k))
	}
	t := &Type{kind: k, policy: p}
	r.types[k] = t
	return t
}

// Get returns the type for a kind.
func (r *Registry) Get(k Kind) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[k]
	if !ok {
		return nil, fmt.Errorf("%s: %w", k, ErrNoSuchType)
	}
	return t, nil
}

// Lookup returns the type for a type name.
func (r *Registry) Lookup(name string) (*Type, error) {
	k, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	return r.Get(k)
}

// Kinds returns the registered kinds in order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.types))
	for k := range r.types {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
