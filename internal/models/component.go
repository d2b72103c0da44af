package models

import (
	"encoding/json"
	"time"
)

// ComponentName names a monitored domain on SystemState.
type ComponentName string

const (
	ComponentEthernetPorts         ComponentName = "ethernet_ports"
	ComponentFCPorts               ComponentName = "fc_ports"
	ComponentBonds                 ComponentName = "bonds"
	ComponentSnapshots             ComponentName = "snapshots"
	ComponentSnapshotSuspendDelete ComponentName = "snapshot_suspend_delete"
)

// Component is a single monitored unit.
type Component interface {
	Key() string
	Kind() ComponentName
	IsMissing() bool
	State() ComponentState
	SetState(ComponentState)
	// Attributes returns the fields that describe the component in events.
	// Cycle timestamps and the computed state are never included.
	Attributes() map[string]any
}

// ComponentContainer is the kind-agnostic view of a Container used by rules.
type ComponentContainer interface {
	Key() string
	Kind() ComponentName
	Members() []Component
	MemberByKey(key string) (Component, bool)
	ComputeState() ComponentState
	UpdatedAt() time.Time
	State() ComponentState
	SetState(ComponentState)
	Attributes() map[string]any
}

// Base carries the fields every component kind shares.
type Base struct {
	Name    string         `json:"name"`
	Missing bool           `json:"is_missing,omitempty"`
	Health  ComponentState `json:"state"`
}

func (b *Base) Key() string               { return b.Name }
func (b *Base) IsMissing() bool           { return b.Missing }
func (b *Base) State() ComponentState     { return b.Health }
func (b *Base) SetState(s ComponentState) { b.Health = s }

// Container is an ordered mapping from component key to component for one kind.
type Container[T Component] struct {
	kind      ComponentName
	items     map[string]T
	order     []string
	updatedAt time.Time
	state     ComponentState
}

// NewContainer creates a container updated at the given cycle time.
func NewContainer[T Component](kind ComponentName, updatedAt time.Time, items ...T) *Container[T] {
	c := &Container[T]{
		kind:      kind,
		items:     make(map[string]T),
		updatedAt: updatedAt,
	}
	for _, item := range items {
		c.Add(item)
	}
	return c
}

// Add inserts or replaces an item, keeping the original position on replace.
func (c *Container[T]) Add(item T) {
	if c.items == nil {
		c.items = make(map[string]T)
	}
	key := item.Key()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = item
}

// Get returns the item stored under key.
func (c *Container[T]) Get(key string) (T, bool) {
	item, ok := c.items[key]
	return item, ok
}

// Len returns the number of items.
func (c *Container[T]) Len() int {
	return len(c.order)
}

// Items returns the items in insertion order.
func (c *Container[T]) Items() []T {
	items := make([]T, 0, len(c.order))
	for _, key := range c.order {
		items = append(items, c.items[key])
	}
	return items
}

func (c *Container[T]) Members() []Component {
	members := make([]Component, 0, len(c.order))
	for _, key := range c.order {
		members = append(members, c.items[key])
	}
	return members
}

func (c *Container[T]) MemberByKey(key string) (Component, bool) {
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return item, true
}

// ComputeState folds member states into the worst one. Empty containers are normal.
func (c *Container[T]) ComputeState() ComponentState {
	state := StateNormal
	for _, key := range c.order {
		state = Worst(state, c.items[key].State())
	}
	return state
}

// UpdatedAt is the time of the cycle that produced the container. Time-based
// rules measure against it instead of the wall clock.
func (c *Container[T]) UpdatedAt() time.Time { return c.updatedAt }

// SetUpdatedAt overrides the cycle time.
func (c *Container[T]) SetUpdatedAt(t time.Time) { c.updatedAt = t }

func (c *Container[T]) setKind(kind ComponentName) { c.kind = kind }

func (c *Container[T]) Key() string                   { return string(c.kind) }
func (c *Container[T]) Kind() ComponentName           { return c.kind }
func (c *Container[T]) State() ComponentState         { return c.state }
func (c *Container[T]) SetState(state ComponentState) { c.state = state }

func (c *Container[T]) Attributes() map[string]any {
	return map[string]any{"kind": string(c.kind)}
}

type containerJSON[T Component] struct {
	UpdatedAt time.Time      `json:"updated_at"`
	State     ComponentState `json:"state"`
	Items     []T            `json:"items"`
}

func (c *Container[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(containerJSON[T]{
		UpdatedAt: c.updatedAt,
		State:     c.state,
		Items:     c.Items(),
	})
}

func (c *Container[T]) UnmarshalJSON(data []byte) error {
	var raw containerJSON[T]
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.items = make(map[string]T)
	c.order = nil
	c.updatedAt = raw.UpdatedAt
	c.state = raw.State
	for _, item := range raw.Items {
		c.Add(item)
	}
	return nil
}
