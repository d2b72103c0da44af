package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/appliance-health/healthd/internal/bus"
	"github.com/appliance-health/healthd/internal/logging"
	"github.com/appliance-health/healthd/internal/models"
	"github.com/appliance-health/healthd/internal/storage"
)

// ErrStaleState is returned when a snapshot is older than the previous one.
var ErrStaleState = errors.New("system state older than previous cycle")

// Publisher delivers (new, old) pairs to the subscribers of a topic.
type Publisher interface {
	Publish(topic string, newState, oldState *models.SystemState) error
}

// Store persists the annotated state of each cycle.
type Store interface {
	LoadLatestSystemState() (*models.SystemState, error)
	SaveSystemState(state *models.SystemState) error
	SaveComponentStates(records []models.ComponentStateRecord) error
}

// Options configures a Monitor.
type Options struct {
	// StateFile seeds the first cycle when the store holds no state.
	StateFile  string
	Registerer prometheus.Registerer
}

// Monitor is the caller of the rule engine: it retains the previous cycle's
// state and publishes the topics each new snapshot calls for.
type Monitor struct {
	mu        sync.Mutex
	bus       Publisher
	store     Store
	previous  *models.SystemState
	stateFile string
	logger    *zap.SugaredLogger
	metrics   *Metrics
}

// New creates a Monitor.
func New(b Publisher, store Store, opts Options) *Monitor {
	return &Monitor{
		bus:       b,
		store:     store,
		stateFile: opts.StateFile,
		logger:    logging.For("monitor"),
		metrics:   NewMetrics(opts.Registerer),
	}
}

// Start evaluates the last known state against nothing, so every rule
// reports from scratch. It is a no-op when no state is known yet.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.initialState()
	if err != nil {
		return err
	}
	if state == nil {
		m.logger.Info("No previous system state; waiting for the first snapshot")
		return nil
	}

	m.logger.Infof("Validating system state collected at %s", state.CollectedAt)
	return m.cycle(state, nil, []string{bus.TopicValidateAll})
}

func (m *Monitor) initialState() (*models.SystemState, error) {
	state, err := m.store.LoadLatestSystemState()
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load previous state: %w", err)
	}
	if m.stateFile == "" {
		return nil, nil
	}
	return ReadStateFile(m.stateFile)
}

// Ingest evaluates a new snapshot against the previous one.
func (m *Monitor) Ingest(state *models.SystemState) error {
	if state == nil {
		return errors.New("nil system state")
	}
	state.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.previous
	if old != nil && state.CollectedAt.Before(old.CollectedAt) {
		m.metrics.ingest(ErrStaleState)
		return fmt.Errorf("%w: %s < %s", ErrStaleState, state.CollectedAt, old.CollectedAt)
	}

	topics := Topics(old, state)
	carryForward(old, state, topics)
	return m.cycle(state, old, topics)
}

// cycle publishes topics, persists the annotated state and advances
// previous. The state advances even when a rule fails so later cycles
// compare against what was actually observed.
func (m *Monitor) cycle(state, old *models.SystemState, topics []string) error {
	var errs []error
	for _, topic := range topics {
		m.metrics.published(topic)
		if err := m.bus.Publish(topic, state, old); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", topic, err))
		}
	}

	if err := m.store.SaveSystemState(state); err != nil {
		errs = append(errs, fmt.Errorf("failed to save system state: %w", err))
	}
	if err := m.store.SaveComponentStates(state.ComponentStates()); err != nil {
		errs = append(errs, fmt.Errorf("failed to save component states: %w", err))
	}

	m.previous = state
	err := errors.Join(errs...)
	m.metrics.ingest(err)
	if err != nil {
		m.logger.Warnf("Cycle at %s completed with errors: %v", state.CollectedAt, err)
	}
	return err
}

// Previous returns the last evaluated state, or nil.
func (m *Monitor) Previous() *models.SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// Topics returns the topics a new snapshot must be published on. Without a
// previous state every rule validates. Snapshot checks depend on the cycle
// time, so the snapshot topic fires every cycle; other components fire when
// their observed data changed.
func Topics(old, state *models.SystemState) []string {
	if old == nil {
		return []string{bus.TopicValidateAll}
	}

	var topics []string
	for _, name := range models.ComponentNames() {
		if name == models.ComponentSnapshots || changed(old, state, name) {
			topics = append(topics, bus.ChangeTopic(name))
		}
	}
	return topics
}

// carryForward copies computed states from old onto the components of state
// whose topic does not fire. Their observation is unchanged, so their rule
// would compute the same states.
func carryForward(old, state *models.SystemState, topics []string) {
	if old == nil {
		return
	}
	fired := make(map[string]bool, len(topics))
	for _, topic := range topics {
		fired[topic] = true
	}
	if fired[bus.TopicValidateAll] {
		return
	}

	for _, name := range models.ComponentNames() {
		if fired[bus.ChangeTopic(name)] {
			continue
		}
		prev, err := old.Lookup(name)
		if err != nil {
			continue
		}
		cur, err := state.Lookup(name)
		if err != nil {
			continue
		}
		switch p := prev.(type) {
		case models.ComponentContainer:
			c, ok := cur.(models.ComponentContainer)
			if !ok {
				continue
			}
			c.SetState(p.State())
			for _, member := range c.Members() {
				if pm, ok := p.MemberByKey(member.Key()); ok {
					member.SetState(pm.State())
				}
			}
		case models.Component:
			if c, ok := cur.(models.Component); ok {
				c.SetState(p.State())
			}
		}
	}
}

// observation is the part of a component that comes from collection,
// excluding computed state and timestamps.
type observation struct {
	Key        string
	Missing    bool
	Attributes map[string]any
}

func observe(state *models.SystemState, name models.ComponentName) []observation {
	attr, err := state.Lookup(name)
	if err != nil {
		return nil
	}
	switch v := attr.(type) {
	case models.ComponentContainer:
		members := v.Members()
		obs := make([]observation, 0, len(members))
		for _, c := range members {
			obs = append(obs, observation{Key: c.Key(), Missing: c.IsMissing(), Attributes: c.Attributes()})
		}
		return obs
	case models.Component:
		return []observation{{Key: v.Key(), Missing: v.IsMissing(), Attributes: v.Attributes()}}
	}
	return nil
}

func changed(old, state *models.SystemState, name models.ComponentName) bool {
	return !cmp.Equal(observe(old, name), observe(state, name))
}

// ReadStateFile decodes a JSON SystemState.
func ReadStateFile(path string) (*models.SystemState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var state models.SystemState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &state, nil
}
