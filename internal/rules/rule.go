package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/logging"
	"github.com/appliance-health/healthd/internal/models"
	"go.uber.org/zap"
)

// ComponentEvaluator reports the negative events of a single component.
type ComponentEvaluator func(c models.Component, state *models.SystemState) ([]events.Event, error)

// ContainerEvaluator reports the negative events of a container as a whole.
type ContainerEvaluator func(c models.ComponentContainer, state *models.SystemState) ([]events.Event, error)

// ComponentHook runs after the base evaluation of a component that was
// present in both cycles. Its events are emitted as they are.
type ComponentHook func(newComponent, oldComponent models.Component) ([]events.Event, error)

// Rule turns an observation of one component kind into states and events.
type Rule struct {
	Type          Type
	ComponentName models.ComponentName
	ChangeTopic   string

	StateWhenNotValid models.ComponentState
	StateWhenMissing  models.ComponentState

	// PositiveEvent is emitted on first observation or recovery. Nil disables it.
	PositiveEvent events.Factory

	EmitMissingEvent      bool
	CombinePositiveEvents bool
	Enabled               bool

	ComponentEvaluators []ComponentEvaluator
	ContainerEvaluators []ContainerEvaluator
	AfterComponent      ComponentHook

	mu      sync.Mutex
	sink    events.Sink
	logger  *zap.SugaredLogger
	metrics *Metrics
}

func newRule(t Type, component models.ComponentName, notValid models.ComponentState, positive events.Factory) *Rule {
	return &Rule{
		Type:              t,
		ComponentName:     component,
		ChangeTopic:       changeTopic(component),
		StateWhenNotValid: notValid,
		StateWhenMissing:  models.StateError,
		PositiveEvent:     positive,
		EmitMissingEvent:  true,
		Enabled:           true,
	}
}

// bind attaches the collaborators a rule emits through.
func (r *Rule) bind(sink events.Sink, logger *zap.SugaredLogger, metrics *Metrics) {
	r.sink = sink
	r.metrics = metrics
	if logger == nil {
		logger = logging.For("rules")
	}
	r.logger = logger.With("rule", string(r.Type))
}

// Handle evaluates the rule's component for a new cycle. oldState is nil on
// the first cycle. Invocations of one rule never interleave.
func (r *Rule) Handle(newState, oldState *models.SystemState) error {
	if !r.Enabled {
		return nil
	}
	if newState == nil {
		return fmt.Errorf("rule %s: no new system state", r.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	err := r.handle(newState, oldState)
	r.metrics.observeEvaluation(r.Type, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("rule %s: %w", r.Type, err)
	}
	return nil
}

func (r *Rule) handle(newState, oldState *models.SystemState) error {
	attr, err := newState.Lookup(r.ComponentName)
	if err != nil {
		return err
	}
	var oldAttr any
	if oldState != nil {
		if oldAttr, err = oldState.Lookup(r.ComponentName); err != nil {
			return err
		}
	}

	switch v := attr.(type) {
	case models.ComponentContainer:
		oldContainer, _ := oldAttr.(models.ComponentContainer)
		return r.handleContainer(v, oldContainer, newState, oldState)
	case models.Component:
		oldComponent, _ := oldAttr.(models.Component)
		return r.EvaluateComponent(v, oldComponent, newState, oldState)
	default:
		return fmt.Errorf("%s is neither a component nor a container (%T)", r.ComponentName, attr)
	}
}

func (r *Rule) handleContainer(newC, oldC models.ComponentContainer, newState, oldState *models.SystemState) error {
	for _, member := range newC.Members() {
		var oldMember models.Component
		if oldC != nil {
			if m, ok := oldC.MemberByKey(member.Key()); ok {
				oldMember = m
			}
		}
		if err := r.EvaluateComponent(member, oldMember, newState, oldState); err != nil {
			return fmt.Errorf("%s %s: %w", r.ComponentName, member.Key(), err)
		}
	}

	valid, wasValid, err := r.EvaluateContainer(newC, oldC, newState, oldState)
	if err != nil {
		return fmt.Errorf("%s container: %w", r.ComponentName, err)
	}

	if !r.CombinePositiveEvents || r.PositiveEvent == nil {
		return nil
	}
	if valid && newC.State() == models.StateNormal {
		if oldC == nil || oldC.ComputeState() != models.StateNormal || !wasValid {
			r.emit(r.PositiveEvent.New(newC))
		}
	}
	return nil
}

// EvaluateComponent computes the state of one component and emits the events
// of its transition from old (nil when not observed before).
func (r *Rule) EvaluateComponent(newC, oldC models.Component, newState, oldState *models.SystemState) error {
	newC.SetState(models.StateNormal)

	if newC.IsMissing() {
		if !r.EmitMissingEvent {
			return nil
		}
		if oldC == nil || !oldC.IsMissing() {
			r.emit(events.ComponentNotFoundEvent.New(newC))
		}
		newC.SetState(r.StateWhenMissing)
		return nil
	}

	current, err := r.runComponentEvaluators(newC, newState)
	if err != nil {
		return err
	}

	oldPresent := oldC != nil && !oldC.IsMissing()
	var previous []events.Event
	if oldPresent {
		if previous, err = r.runComponentEvaluators(oldC, oldState); err != nil {
			return fmt.Errorf("previous cycle: %w", err)
		}
	}

	if len(current) > 0 {
		r.emitFresh(current, previous)
		newC.SetState(r.StateWhenNotValid)
	} else if (len(previous) > 0 || !oldPresent) && !r.CombinePositiveEvents && r.PositiveEvent != nil {
		r.emit(r.PositiveEvent.New(newC))
	}

	if r.AfterComponent != nil && oldPresent {
		extra, err := r.AfterComponent(newC, oldC)
		if err != nil {
			return err
		}
		for _, e := range extra {
			r.emit(e)
		}
	}
	return nil
}

// EvaluateContainer runs the container-level evaluators and writes the
// aggregate state onto the container. valid reports no negative events now;
// wasValid reports none in the previous cycle (or no previous container).
func (r *Rule) EvaluateContainer(newC, oldC models.ComponentContainer, newState, oldState *models.SystemState) (valid, wasValid bool, err error) {
	newC.SetState(newC.ComputeState())
	if len(r.ContainerEvaluators) == 0 {
		return true, true, nil
	}

	current, err := r.runContainerEvaluators(newC, newState)
	if err != nil {
		return false, false, err
	}
	var previous []events.Event
	if oldC != nil {
		if previous, err = r.runContainerEvaluators(oldC, oldState); err != nil {
			return false, false, fmt.Errorf("previous cycle: %w", err)
		}
	}

	if len(current) > 0 {
		r.emitFresh(current, previous)
		newC.SetState(models.Worst(newC.State(), r.StateWhenNotValid))
	}
	return len(current) == 0, len(previous) == 0, nil
}

func (r *Rule) runComponentEvaluators(c models.Component, state *models.SystemState) ([]events.Event, error) {
	var found []events.Event
	for _, evaluate := range r.ComponentEvaluators {
		evs, err := evaluate(c, state)
		if err != nil {
			return nil, err
		}
		found = append(found, evs...)
	}
	return found, nil
}

func (r *Rule) runContainerEvaluators(c models.ComponentContainer, state *models.SystemState) ([]events.Event, error) {
	var found []events.Event
	for _, evaluate := range r.ContainerEvaluators {
		evs, err := evaluate(c, state)
		if err != nil {
			return nil, err
		}
		found = append(found, evs...)
	}
	return found, nil
}

func (r *Rule) emitFresh(current, previous []events.Event) {
	fresh := events.Dedup(current, previous)
	r.metrics.suppressed(r.Type, len(current)-len(fresh))
	for _, e := range fresh {
		r.emit(e)
	}
}

// emit hands one event to the sink. Delivery failures are logged, not retried.
func (r *Rule) emit(e events.Event) {
	r.metrics.emitted(r.Type, e.Kind)
	if r.sink == nil {
		return
	}
	if err := r.sink.Register(e); err != nil && r.logger != nil {
		r.logger.Warnf("Failed to register event %s for %s %s: %v", e.Kind, e.Component, e.Key, err)
	}
}

func unexpectedKind(c any, want string) error {
	return fmt.Errorf("expected %s, got %T", want, c)
}
