package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/appliance-health/healthd/internal/bus"
	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/models"
	"go.uber.org/zap"
)

// ErrUnknownRule is returned for a rule type the registry cannot build.
var ErrUnknownRule = errors.New("unknown rule type")

// Type identifies a rule. Exactly one Rule per Type exists in a Registry.
type Type string

const (
	TypeBond          Type = "bond"
	TypeFCPorts       Type = "fc_ports"
	TypeEthernetPorts Type = "ethernet_ports"
	TypeSnapshots     Type = "snapshots"

	genericPrefix = "generic:"
)

// GenericType is the type of the fallback rule for a component without a dedicated rule.
func GenericType(component models.ComponentName) Type {
	return Type(genericPrefix + string(component))
}

var constructors = map[Type]func() *Rule{
	TypeBond:          NewBondRule,
	TypeFCPorts:       NewFCPortsRule,
	TypeEthernetPorts: NewEthernetPortsRule,
	TypeSnapshots:     NewSnapshotRule,
}

// dedicated maps components to the rule type that owns them.
var dedicated = map[models.ComponentName]Type{
	models.ComponentBonds:         TypeBond,
	models.ComponentFCPorts:       TypeFCPorts,
	models.ComponentEthernetPorts: TypeEthernetPorts,
	models.ComponentSnapshots:     TypeSnapshots,
}

func changeTopic(component models.ComponentName) string {
	return bus.ChangeTopic(component)
}

// Subscriber is the part of the bus the registry needs.
type Subscriber interface {
	Subscribe(h bus.Handler, topic string)
	Unsubscribe(h bus.Handler, topic string)
}

// Options configures the rules a Registry builds.
type Options struct {
	Disabled map[Type]bool
	Logger   *zap.SugaredLogger
	Metrics  *Metrics
}

// Registry holds the single instance of every rule type and subscribes each
// one to the bus when it is first built.
type Registry struct {
	mu    sync.Mutex
	bus   Subscriber
	sink  events.Sink
	opts  Options
	rules map[Type]*Rule
}

// NewRegistry creates an empty registry. Rules are built on demand.
func NewRegistry(sub Subscriber, sink events.Sink, opts Options) *Registry {
	return &Registry{
		bus:   sub,
		sink:  sink,
		opts:  opts,
		rules: make(map[Type]*Rule),
	}
}

// Get returns the rule of type t, building and subscribing it on first use.
func (r *Registry) Get(t Type) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rule, ok := r.rules[t]; ok {
		return rule, nil
	}

	rule, err := build(t)
	if err != nil {
		return nil, err
	}
	if r.opts.Disabled[t] {
		rule.Enabled = false
	}
	rule.bind(r.sink, r.opts.Logger, r.opts.Metrics)

	if r.bus != nil {
		r.bus.Subscribe(rule, rule.ChangeTopic)
		r.bus.Subscribe(rule, bus.TopicValidateAll)
	}
	r.rules[t] = rule
	return rule, nil
}

func build(t Type) (*Rule, error) {
	if ctor, ok := constructors[t]; ok {
		return ctor(), nil
	}
	if name, ok := strings.CutPrefix(string(t), genericPrefix); ok {
		component := models.ComponentName(name)
		if _, known := dedicated[component]; !known && isKnownComponent(component) {
			return NewGenericRule(component), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRule, t)
}

func isKnownComponent(name models.ComponentName) bool {
	for _, n := range models.ComponentNames() {
		if n == name {
			return true
		}
	}
	return false
}

// ParseType validates a rule type name, e.g. from configuration.
func ParseType(name string) (Type, error) {
	t := Type(name)
	if _, err := build(t); err != nil {
		return "", err
	}
	return t, nil
}

// TypeFor returns the rule type responsible for a component.
func TypeFor(component models.ComponentName) Type {
	if t, ok := dedicated[component]; ok {
		return t
	}
	return GenericType(component)
}

// EnsureAll builds the rule of every known component.
func (r *Registry) EnsureAll() error {
	for _, name := range models.ComponentNames() {
		if _, err := r.Get(TypeFor(name)); err != nil {
			return err
		}
	}
	return nil
}

// Rules returns the built rules ordered by type.
func (r *Registry) Rules() []*Rule {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules := make([]*Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Type < rules[j].Type })
	return rules
}

// Reset forgets every built rule and detaches it from the bus, so the next
// Get builds the only subscribed instance of its type.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bus != nil {
		for _, rule := range r.rules {
			r.bus.Unsubscribe(rule, rule.ChangeTopic)
			r.bus.Unsubscribe(rule, bus.TopicValidateAll)
		}
	}
	r.rules = make(map[Type]*Rule)
}
