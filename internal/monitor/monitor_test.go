package monitor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appliance-health/healthd/internal/bus"
	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/models"
	"github.com/appliance-health/healthd/internal/rules"
	"github.com/appliance-health/healthd/internal/storage"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type memoryStore struct {
	mu      sync.Mutex
	latest  *models.SystemState
	records []models.ComponentStateRecord
	saveErr error
}

func (s *memoryStore) LoadLatestSystemState() (*models.SystemState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, storage.ErrNotFound
	}
	return s.latest, nil
}

func (s *memoryStore) SaveSystemState(state *models.SystemState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.latest = state
	return nil
}

func (s *memoryStore) SaveComponentStates(records []models.ComponentStateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	return nil
}

type fixture struct {
	monitor  *Monitor
	store    *memoryStore
	recorder *events.Recorder
	bus      *bus.Bus
	registry *prometheus.Registry
}

func setup(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:    &memoryStore{},
		recorder: &events.Recorder{},
		bus:      bus.New(),
		registry: prometheus.NewRegistry(),
	}
	reg := rules.NewRegistry(f.bus, f.recorder, rules.Options{})
	require.NoError(t, reg.EnsureAll())
	opts.Registerer = f.registry
	f.monitor = New(f.bus, f.store, opts)
	return f
}

func bondState(now time.Time, up bool) *models.SystemState {
	s := models.NewSystemState(now)
	s.Bonds.Add(&models.Bond{Base: models.Base{Name: "bond0"}, Status: up})
	return s
}

func TestIngest_FirstCycleValidatesAll(t *testing.T) {
	f := setup(t, Options{})

	require.NoError(t, f.monitor.Ingest(bondState(t0, false)))

	assert.ElementsMatch(t, []string{"BondDownEvent", "SnapshotsOKEvent"}, f.recorder.Kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.monitor.metrics.publishedTotal.WithLabelValues(bus.TopicValidateAll)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.monitor.metrics.cyclesTotal.WithLabelValues("success")))
}

func TestIngest_UnchangedStateIsQuiet(t *testing.T) {
	f := setup(t, Options{})

	require.NoError(t, f.monitor.Ingest(bondState(t0, false)))
	f.recorder.Reset()

	require.NoError(t, f.monitor.Ingest(bondState(t0.Add(time.Minute), false)))
	assert.Empty(t, f.recorder.Kinds())

	// The annotated state carries forward even though the bond topic did not fire.
	prev := f.monitor.Previous()
	require.NotNil(t, prev)
	assert.True(t, prev.CollectedAt.Equal(t0.Add(time.Minute)))

	b, ok := prev.Bonds.Get("bond0")
	require.True(t, ok)
	assert.Equal(t, models.StateWarning, b.State())

	var stored *models.ComponentStateRecord
	for i := range f.store.records {
		if f.store.records[i].Component == models.ComponentBonds && f.store.records[i].Key == "bond0" {
			stored = &f.store.records[i]
		}
	}
	require.NotNil(t, stored)
	assert.Equal(t, models.StateWarning, stored.State)
}

func TestIngest_UnchangedStateKeepsStateAcrossCycles(t *testing.T) {
	f := setup(t, Options{})

	require.NoError(t, f.monitor.Ingest(bondState(t0, false)))
	wantContainer := f.monitor.Previous().Bonds.State()

	for i := 1; i <= 3; i++ {
		require.NoError(t, f.monitor.Ingest(bondState(t0.Add(time.Duration(i)*time.Minute), false)))
	}

	prev := f.monitor.Previous()
	b, ok := prev.Bonds.Get("bond0")
	require.True(t, ok)
	assert.Equal(t, models.StateWarning, b.State())
	assert.Equal(t, wantContainer, prev.Bonds.State())

	// A recovery after the quiet cycles is still reported against the carried state.
	f.recorder.Reset()
	require.NoError(t, f.monitor.Ingest(bondState(t0.Add(5*time.Minute), true)))
	assert.Equal(t, []string{"BondUpEvent"}, f.recorder.Kinds())
}

func TestIngest_ChangedComponentFiresItsTopic(t *testing.T) {
	f := setup(t, Options{})

	require.NoError(t, f.monitor.Ingest(bondState(t0, false)))
	f.recorder.Reset()

	require.NoError(t, f.monitor.Ingest(bondState(t0.Add(time.Minute), true)))
	assert.Equal(t, []string{"BondUpEvent"}, f.recorder.Kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.monitor.metrics.publishedTotal.WithLabelValues(bus.ChangeTopic(models.ComponentBonds))))
}

func TestIngest_PersistsAnnotatedState(t *testing.T) {
	f := setup(t, Options{})

	require.NoError(t, f.monitor.Ingest(bondState(t0, false)))

	require.NotNil(t, f.store.latest)
	b, ok := f.store.latest.Bonds.Get("bond0")
	require.True(t, ok)
	assert.Equal(t, models.StateWarning, b.State())

	var found bool
	for _, r := range f.store.records {
		if r.Component == models.ComponentBonds && r.Key == "bond0" {
			found = true
			assert.Equal(t, models.StateWarning, r.State)
		}
	}
	assert.True(t, found, "expected a component state record for bond0")
}

func TestIngest_RejectsStaleState(t *testing.T) {
	f := setup(t, Options{})

	require.NoError(t, f.monitor.Ingest(bondState(t0, false)))
	err := f.monitor.Ingest(bondState(t0.Add(-time.Minute), true))
	assert.ErrorIs(t, err, ErrStaleState)
	assert.True(t, f.monitor.Previous().CollectedAt.Equal(t0))
}

func TestIngest_NilState(t *testing.T) {
	f := setup(t, Options{})
	assert.Error(t, f.monitor.Ingest(nil))
}

func TestIngest_RuleFailureStillAdvances(t *testing.T) {
	f := setup(t, Options{})

	bad := models.NewSystemState(t0)
	bad.Snapshots = models.NewSnapshotContainer(t0, &models.Snapshot{
		Base:       models.Base{Name: "orphan"},
		PolicyType: models.PolicyDaily,
		CreatedAt:  &t0,
		ExpiresAt:  &t0,
	})

	err := f.monitor.Ingest(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshots")
	assert.Same(t, bad, f.monitor.Previous())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.monitor.metrics.cyclesTotal.WithLabelValues("error")))
}

func TestIngest_PersistenceFailureReported(t *testing.T) {
	f := setup(t, Options{})
	f.store.saveErr = errors.New("disk full")

	err := f.monitor.Ingest(bondState(t0, true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestStart_ValidatesPersistedState(t *testing.T) {
	f := setup(t, Options{})
	f.store.latest = bondState(t0, false)

	require.NoError(t, f.monitor.Start())
	assert.ElementsMatch(t, []string{"BondDownEvent", "SnapshotsOKEvent"}, f.recorder.Kinds())
	assert.NotNil(t, f.monitor.Previous())

	f.recorder.Reset()
	require.NoError(t, f.monitor.Ingest(bondState(t0.Add(time.Minute), false)))
	assert.Empty(t, f.recorder.Kinds(), "restart must not re-report an unchanged condition")
}

func TestStart_FromStateFile(t *testing.T) {
	data, err := json.Marshal(bondState(t0, false))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	f := setup(t, Options{StateFile: path})
	require.NoError(t, f.monitor.Start())
	assert.Contains(t, f.recorder.Kinds(), "BondDownEvent")
	assert.NotNil(t, f.store.latest)
}

func TestStart_NothingKnown(t *testing.T) {
	f := setup(t, Options{})
	require.NoError(t, f.monitor.Start())
	assert.Nil(t, f.monitor.Previous())
	assert.Empty(t, f.recorder.Kinds())
}

func TestStart_BadStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	f := setup(t, Options{StateFile: path})
	assert.Error(t, f.monitor.Start())
}

func TestTopics(t *testing.T) {
	assert.Equal(t, []string{bus.TopicValidateAll}, Topics(nil, bondState(t0, true)))

	same := Topics(bondState(t0, true), bondState(t0.Add(time.Minute), true))
	assert.Equal(t, []string{bus.ChangeTopic(models.ComponentSnapshots)}, same)

	changed := Topics(bondState(t0, true), bondState(t0.Add(time.Minute), false))
	assert.ElementsMatch(t, []string{
		bus.ChangeTopic(models.ComponentBonds),
		bus.ChangeTopic(models.ComponentSnapshots),
	}, changed)

	// Computed state is not an observation.
	annotated := bondState(t0, true)
	b, _ := annotated.Bonds.Get("bond0")
	b.SetState(models.StateCritical)
	assert.Equal(t, []string{bus.ChangeTopic(models.ComponentSnapshots)}, Topics(annotated, bondState(t0.Add(time.Minute), true)))

	suspended := bondState(t0.Add(time.Minute), true)
	suspended.SnapshotSuspendDelete.Suspended = true
	assert.Contains(t, Topics(bondState(t0, true), suspended), bus.ChangeTopic(models.ComponentSnapshotSuspendDelete))
}

func TestIngest_DecodedSnapshotsWithoutUpdatedAtUseCollectionTime(t *testing.T) {
	f := setup(t, Options{})

	var state models.SystemState
	require.NoError(t, json.Unmarshal([]byte(`{
		"collected_at": "2024-01-08T00:00:00Z",
		"snapshots": {"items": []},
		"policies": {
			"daily": {"policy_type": "daily", "enabled": true, "enabled_at": "2024-01-01T00:00:00Z", "frequency": 24, "retention": 7}
		}
	}`), &state))
	assert.True(t, state.Snapshots.UpdatedAt().Equal(state.CollectedAt))

	require.NoError(t, f.monitor.Ingest(&state))
	assert.Contains(t, f.recorder.Kinds(), "SnapshotOverdueEvent")
	assert.NotContains(t, f.recorder.Kinds(), "SnapshotsOKEvent")
}
