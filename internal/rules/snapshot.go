package rules

import (
	"fmt"
	"time"

	"github.com/appliance-health/healthd/internal/events"
	"github.com/appliance-health/healthd/internal/models"
)

const (
	// schedulerTolerance covers the run cadence of the external snapshot scheduler.
	schedulerTolerance = 63 * time.Minute
	// frequencyTolerance is how much earlier than its frequency a policy may fire.
	frequencyTolerance = 5 * time.Minute
)

// NewSnapshotRule watches the snapshot container. Members are checked for
// expiry, creation and deletion; the container for overdue and too frequent
// policies. Only a fully valid container reports the combined positive event.
func NewSnapshotRule() *Rule {
	r := newRule(TypeSnapshots, models.ComponentSnapshots, models.StateCritical, events.SnapshotsOKEvent)
	r.EmitMissingEvent = false
	r.CombinePositiveEvents = true
	r.ComponentEvaluators = []ComponentEvaluator{
		evaluateBadExpiration,
		evaluateBadCreation,
		evaluateNotDeleted,
	}
	r.ContainerEvaluators = []ContainerEvaluator{
		evaluateOverdue,
		evaluateWrongFrequency,
	}
	return r
}

func asSnapshot(c models.Component) (*models.Snapshot, error) {
	s, ok := c.(*models.Snapshot)
	if !ok {
		return nil, unexpectedKind(c, "snapshot")
	}
	return s, nil
}

func asSnapshotContainer(c models.ComponentContainer) (*models.SnapshotContainer, error) {
	s, ok := c.(*models.SnapshotContainer)
	if !ok {
		return nil, unexpectedKind(c, "snapshot container")
	}
	return s, nil
}

// cycleTime is "now" for snapshot checks: the update time of the snapshot container.
func cycleTime(state *models.SystemState) (time.Time, error) {
	if state == nil || state.Snapshots == nil || state.Snapshots.Container == nil {
		return time.Time{}, fmt.Errorf("system state has no snapshot container")
	}
	now := state.Snapshots.UpdatedAt()
	if now.IsZero() {
		return time.Time{}, fmt.Errorf("snapshot container has no cycle time")
	}
	return now, nil
}

func evaluateBadExpiration(c models.Component, _ *models.SystemState) ([]events.Event, error) {
	snap, err := asSnapshot(c)
	if err != nil {
		return nil, err
	}
	if snap.ExpiresAt == nil {
		return []events.Event{events.SnapshotBadExpirationEvent.New(snap)}, nil
	}
	if snap.OriginalPolicy == nil {
		return nil, fmt.Errorf("snapshot %s has no original policy", snap.Name)
	}
	if snap.CreatedAt == nil {
		return nil, nil
	}

	expected := snap.CreatedAt.Add(snap.OriginalPolicy.RetentionDuration())
	if absDuration(expected.Sub(*snap.ExpiresAt)) <= schedulerTolerance {
		return nil, nil
	}
	return []events.Event{
		events.SnapshotBadExpirationEvent.New(snap, events.With(events.ExtraCurrentPolicy, *snap.OriginalPolicy)),
	}, nil
}

func evaluateBadCreation(c models.Component, _ *models.SystemState) ([]events.Event, error) {
	snap, err := asSnapshot(c)
	if err != nil {
		return nil, err
	}
	if snap.CreatedAt != nil {
		return nil, nil
	}
	return []events.Event{events.SnapshotBadCreationEvent.New(snap)}, nil
}

func evaluateNotDeleted(c models.Component, state *models.SystemState) ([]events.Event, error) {
	snap, err := asSnapshot(c)
	if err != nil {
		return nil, err
	}
	if state.DeleteSuspended() {
		return nil, nil
	}
	if snap.PolicyType.IsDefault() {
		if policy := state.Policy(snap.PolicyType); policy == nil || !policy.Enabled {
			return nil, nil
		}
	}
	if snap.ExpiresAt == nil {
		return nil, nil
	}

	now, err := cycleTime(state)
	if err != nil {
		return nil, err
	}
	if now.Sub(*snap.ExpiresAt) <= schedulerTolerance {
		return nil, nil
	}
	return []events.Event{events.SnapshotNotDeletedEvent.New(snap)}, nil
}

// evaluateOverdue reports every enabled default policy whose last checkpoint
// is older than its frequency plus the scheduler tolerance.
func evaluateOverdue(c models.ComponentContainer, state *models.SystemState) ([]events.Event, error) {
	snaps, err := asSnapshotContainer(c)
	if err != nil {
		return nil, err
	}
	now := snaps.UpdatedAt()
	if now.IsZero() {
		return nil, fmt.Errorf("snapshot container has no cycle time")
	}

	var found []events.Event
	for _, policyType := range models.DefaultPolicyTypes {
		policy := state.Policy(policyType)
		if policy == nil || !policy.Enabled {
			continue
		}

		checkpoint := latest(
			snaps.LastCreatedAt(policyType),
			policy.LatestFrequencyDecrease,
			state.ServiceStartTime,
			policy.EnabledAt,
		)
		if checkpoint == nil {
			continue
		}

		elapsed := now.Sub(*checkpoint)
		if elapsed <= policy.FrequencyDuration()+schedulerTolerance {
			continue
		}
		delay := int((elapsed - policy.FrequencyDuration()).Minutes())
		found = append(found, events.SnapshotOverdueEvent.New(snaps,
			events.With(events.ExtraCurrentPolicy, *policy),
			events.With(events.ExtraDelayMinutes, delay),
		))
	}
	return found, nil
}

// evaluateWrongFrequency reports every enabled default policy whose two most
// recent snapshots are closer together than its frequency allows.
func evaluateWrongFrequency(c models.ComponentContainer, state *models.SystemState) ([]events.Event, error) {
	snaps, err := asSnapshotContainer(c)
	if err != nil {
		return nil, err
	}
	live := snaps.PruneDeleted()

	var found []events.Event
	for _, policyType := range models.DefaultPolicyTypes {
		policy := state.Policy(policyType)
		if policy == nil || !policy.Enabled {
			continue
		}

		since := latest(state.ServiceStartTime, policy.EnabledAt)
		var recent []*models.Snapshot
		for _, s := range live.ByPolicy(policyType) {
			if s.CreatedAt == nil {
				continue
			}
			if since == nil || s.CreatedAt.After(*since) {
				recent = append(recent, s)
			}
		}
		if len(recent) < 2 {
			continue
		}

		newest, previous := recent[len(recent)-1], recent[len(recent)-2]
		gap := newest.CreatedAt.Sub(*previous.CreatedAt)
		if gap >= policy.FrequencyDuration()-frequencyTolerance {
			continue
		}
		found = append(found, events.SnapshotWrongFrequencyEvent.New(snaps,
			events.With(events.ExtraCurrentPolicy, *policy),
			events.With(events.ExtraBadSnapshot, newest.Attributes()),
			events.With(events.ExtraPreviousSnapshot, previous.Attributes()),
			events.With(events.ExtraTimeDifferenceMinutes, int(gap.Minutes())),
		))
	}
	return found, nil
}

// EvaluateBadLockExpiration checks that a snapshot of an immutable policy is
// locked until it expires. Not registered on the snapshot rule.
func EvaluateBadLockExpiration(c models.Component, _ *models.SystemState) ([]events.Event, error) {
	snap, err := asSnapshot(c)
	if err != nil {
		return nil, err
	}
	if snap.OriginalPolicy == nil || !snap.OriginalPolicy.Immutable || snap.ExpiresAt == nil {
		return nil, nil
	}
	if snap.LockExpiresAt != nil && absDuration(snap.LockExpiresAt.Sub(*snap.ExpiresAt)) <= schedulerTolerance {
		return nil, nil
	}
	return []events.Event{events.SnapshotBadLockExpirationEvent.New(snap)}, nil
}

// EvaluateUnexpectedLock checks that snapshots of mutable policies carry no
// lock. Not registered on the snapshot rule.
func EvaluateUnexpectedLock(c models.Component, _ *models.SystemState) ([]events.Event, error) {
	snap, err := asSnapshot(c)
	if err != nil {
		return nil, err
	}
	if snap.OriginalPolicy == nil || snap.OriginalPolicy.Immutable || snap.LockExpiresAt == nil {
		return nil, nil
	}
	return []events.Event{events.SnapshotUnexpectedLockEvent.New(snap)}, nil
}

// latest returns the most recent of the given times, ignoring nils.
func latest(times ...*time.Time) *time.Time {
	var result *time.Time
	for _, t := range times {
		if t == nil {
			continue
		}
		if result == nil || t.After(*result) {
			result = t
		}
	}
	return result
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
