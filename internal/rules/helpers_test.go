package rules

import (
	"testing"
	"time"

	"github.com/appliance-health/healthd/internal/bus"
	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/models"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

const day = 24 * time.Hour

// setupRule builds a rule of type typ through a fresh registry recording its events.
func setupRule(t *testing.T, typ Type) (*Rule, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	reg := NewRegistry(bus.New(), rec, Options{})
	rule, err := reg.Get(typ)
	require.NoError(t, err)
	return rule, rec
}

func bondState(now time.Time, bonds ...*models.Bond) *models.SystemState {
	s := models.NewSystemState(now)
	for _, b := range bonds {
		s.Bonds.Add(b)
	}
	return s
}

func bond(name string, up bool) *models.Bond {
	return &models.Bond{Base: models.Base{Name: name}, Status: up}
}

func missingBond(name string) *models.Bond {
	return &models.Bond{Base: models.Base{Name: name, Missing: true}}
}

func fcState(now time.Time, ports ...*models.FCPort) *models.SystemState {
	s := models.NewSystemState(now)
	for _, p := range ports {
		s.FCPorts.Add(p)
	}
	return s
}

func fcPort(name, role, link, speed string) *models.FCPort {
	return &models.FCPort{Base: models.Base{Name: name}, Role: role, LinkState: link, ConnectionSpeed: speed}
}

func dailyPolicy() *models.Policy {
	return &models.Policy{
		Type:      models.PolicyDaily,
		Enabled:   true,
		EnabledAt: at(0),
		Frequency: 24,
		Retention: 30,
	}
}

// dailySnapshot is a healthy daily snapshot created offset after t0.
func dailySnapshot(name string, offset time.Duration) *models.Snapshot {
	return &models.Snapshot{
		Base:           models.Base{Name: name},
		PolicyType:     models.PolicyDaily,
		OriginalPolicy: dailyPolicy(),
		CreatedAt:      at(offset),
		ExpiresAt:      at(offset + 30*day),
	}
}

func snapshotState(now time.Time, policies []*models.Policy, snaps ...*models.Snapshot) *models.SystemState {
	s := models.NewSystemState(now)
	s.Snapshots = models.NewSnapshotContainer(now, snaps...)
	for _, p := range policies {
		s.Policies[p.Type] = p
	}
	return s
}

func kinds(evs []events.Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Kind)
	}
	return out
}
