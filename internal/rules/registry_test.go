package rules

import (
	"testing"
	"time"

	"github.com/appliance-health/healthd/internal/bus"
	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SingleInstancePerType(t *testing.T) {
	b := bus.New()
	reg := NewRegistry(b, &events.Recorder{}, Options{})

	first, err := reg.Get(TypeBond)
	require.NoError(t, err)
	second, err := reg.Get(TypeBond)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, b.Subscribers("bonds_changed"))
	assert.Equal(t, 1, b.Subscribers(bus.TopicValidateAll))
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := NewRegistry(bus.New(), &events.Recorder{}, Options{})

	_, err := reg.Get(Type("raid"))
	assert.ErrorIs(t, err, ErrUnknownRule)

	_, err = reg.Get(GenericType(models.ComponentBonds))
	assert.ErrorIs(t, err, ErrUnknownRule)

	_, err = reg.Get(GenericType("power_supplies"))
	assert.ErrorIs(t, err, ErrUnknownRule)
}

func TestRegistry_EnsureAllSubscribesEveryRule(t *testing.T) {
	b := bus.New()
	reg := NewRegistry(b, &events.Recorder{}, Options{})
	require.NoError(t, reg.EnsureAll())

	rules := reg.Rules()
	require.Len(t, rules, len(models.ComponentNames()))
	assert.Equal(t, len(rules), b.Subscribers(bus.TopicValidateAll))
	for _, name := range models.ComponentNames() {
		assert.Equal(t, 1, b.Subscribers(bus.ChangeTopic(name)), name)
	}

	// calling it again builds nothing new
	require.NoError(t, reg.EnsureAll())
	assert.Len(t, reg.Rules(), len(rules))
	assert.Equal(t, len(rules), b.Subscribers(bus.TopicValidateAll))
}

func TestRegistry_Disabled(t *testing.T) {
	reg := NewRegistry(bus.New(), &events.Recorder{}, Options{Disabled: map[Type]bool{TypeFCPorts: true}})

	fc, err := reg.Get(TypeFCPorts)
	require.NoError(t, err)
	assert.False(t, fc.Enabled)

	bond, err := reg.Get(TypeBond)
	require.NoError(t, err)
	assert.True(t, bond.Enabled)
}

func TestRegistry_Reset(t *testing.T) {
	reg := NewRegistry(nil, &events.Recorder{}, Options{})
	first, err := reg.Get(TypeSnapshots)
	require.NoError(t, err)

	reg.Reset()
	assert.Empty(t, reg.Rules())

	second, err := reg.Get(TypeSnapshots)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestRegistry_ResetDetachesRulesFromBus(t *testing.T) {
	b := bus.New()
	rec := &events.Recorder{}
	reg := NewRegistry(b, rec, Options{})
	require.NoError(t, reg.EnsureAll())
	topic := bus.ChangeTopic(models.ComponentBonds)
	require.Equal(t, 1, b.Subscribers(topic))

	reg.Reset()
	assert.Zero(t, b.Subscribers(topic))
	assert.Zero(t, b.Subscribers(bus.TopicValidateAll))

	require.NoError(t, reg.EnsureAll())
	assert.Equal(t, 1, b.Subscribers(topic))

	require.NoError(t, b.Publish(topic, bondState(t0, bond("b1", false)), nil))
	assert.Equal(t, []string{"BondDownEvent"}, rec.Kinds())
}

func TestTypeFor(t *testing.T) {
	assert.Equal(t, TypeBond, TypeFor(models.ComponentBonds))
	assert.Equal(t, TypeSnapshots, TypeFor(models.ComponentSnapshots))
	assert.Equal(t, GenericType(models.ComponentSnapshotSuspendDelete), TypeFor(models.ComponentSnapshotSuspendDelete))
}

func TestValidateAllEvaluatesEveryRule(t *testing.T) {
	b := bus.New()
	rec := &events.Recorder{}
	reg := NewRegistry(b, rec, Options{})
	require.NoError(t, reg.EnsureAll())

	state := models.NewSystemState(t0)
	state.Bonds.Add(bond("b1", false))
	state.FCPorts.Add(fcPort("fc0", "frontend", "up", "16Gb"))
	state.EthernetPorts.Add(&models.EthernetPort{Base: models.Base{Name: "em0"}, LinkState: "down"})

	require.NoError(t, b.Publish(bus.TopicValidateAll, state, nil))
	assert.ElementsMatch(t, []string{
		"BondDownEvent",
		"FrontendFCPortUpEvent",
		"BackendEthernetPortDownEvent",
		"SnapshotsOKEvent",
	}, rec.Kinds())
}

func TestChangeTopicOnlyReachesItsRule(t *testing.T) {
	b := bus.New()
	rec := &events.Recorder{}
	reg := NewRegistry(b, rec, Options{})
	require.NoError(t, reg.EnsureAll())

	state := models.NewSystemState(t0)
	state.Bonds.Add(bond("b1", false))
	state.FCPorts.Add(fcPort("fc0", "frontend", "down", "16Gb"))

	require.NoError(t, b.Publish(bus.ChangeTopic(models.ComponentBonds), state, nil))
	assert.Equal(t, []string{"BondDownEvent"}, rec.Kinds())
}

func TestMetrics(t *testing.T) {
	promReg := prometheus.NewRegistry()
	metrics := NewMetrics(promReg)
	reg := NewRegistry(nil, &events.Recorder{}, Options{Metrics: metrics})
	rule, err := reg.Get(TypeBond)
	require.NoError(t, err)

	cycle1 := bondState(t0, bond("b1", false))
	cycle2 := bondState(t0.Add(time.Minute), bond("b1", false))
	require.NoError(t, rule.Handle(cycle1, nil))
	require.NoError(t, rule.Handle(cycle2, cycle1))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.evaluationsTotal.WithLabelValues("bond", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventsEmitted.WithLabelValues("bond", "BondDownEvent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventsSuppressed.WithLabelValues("bond")))

	assert.Nil(t, NewMetrics(nil))
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("bond")
	require.NoError(t, err)
	assert.Equal(t, TypeBond, typ)

	typ, err = ParseType("generic:snapshot_suspend_delete")
	require.NoError(t, err)
	assert.Equal(t, GenericType(models.ComponentSnapshotSuspendDelete), typ)

	_, err = ParseType("generic:bonds")
	assert.ErrorIs(t, err, ErrUnknownRule)

	_, err = ParseType("power_supplies")
	assert.ErrorIs(t, err, ErrUnknownRule)
}
