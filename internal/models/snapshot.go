package models

import (
	"sort"
	"time"
)

// PolicyType identifies a snapshot policy.
type PolicyType string

const (
	PolicyHourly  PolicyType = "hourly"
	PolicyDaily   PolicyType = "daily"
	PolicyWeekly  PolicyType = "weekly"
	PolicyMonthly PolicyType = "monthly"
	PolicyManual  PolicyType = "manual"
)

// DefaultPolicyTypes are the built-in retention policies, in evaluation order.
var DefaultPolicyTypes = []PolicyType{PolicyHourly, PolicyDaily, PolicyWeekly, PolicyMonthly}

// IsDefault reports whether the type is one of the built-in policies.
func (t PolicyType) IsDefault() bool {
	for _, d := range DefaultPolicyTypes {
		if t == d {
			return true
		}
	}
	return false
}

// Policy is the configuration of one snapshot category.
type Policy struct {
	Type                    PolicyType `json:"policy_type"`
	Enabled                 bool       `json:"enabled"`
	EnabledAt               *time.Time `json:"enabled_at,omitempty"`
	LatestFrequencyDecrease *time.Time `json:"latest_frequency_decrease,omitempty"`
	Frequency               int        `json:"frequency"` // hours
	Retention               int        `json:"retention"` // days
	Immutable               bool       `json:"immutable"`
}

// FrequencyDuration returns the configured frequency.
func (p Policy) FrequencyDuration() time.Duration {
	return time.Duration(p.Frequency) * time.Hour
}

// RetentionDuration returns the configured retention.
func (p Policy) RetentionDuration() time.Duration {
	return time.Duration(p.Retention) * 24 * time.Hour
}

// Snapshot is a point-in-time copy produced by a policy or by hand.
type Snapshot struct {
	Base
	PolicyType     PolicyType `json:"policy_type"`
	OriginalPolicy *Policy    `json:"original_policy,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LockExpiresAt  *time.Time `json:"lock_expires_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (s *Snapshot) Kind() ComponentName { return ComponentSnapshots }

func (s *Snapshot) Attributes() map[string]any {
	attrs := map[string]any{
		"name":        s.Name,
		"policy_type": string(s.PolicyType),
	}
	if s.CreatedAt != nil {
		attrs["created_at"] = *s.CreatedAt
	}
	if s.ExpiresAt != nil {
		attrs["expires_at"] = *s.ExpiresAt
	}
	if s.LockExpiresAt != nil {
		attrs["lock_expires_at"] = *s.LockExpiresAt
	}
	return attrs
}

// SnapshotContainer holds all snapshots of the appliance.
type SnapshotContainer struct {
	*Container[*Snapshot]
}

// NewSnapshotContainer creates a snapshot container updated at the given cycle time.
func NewSnapshotContainer(updatedAt time.Time, snapshots ...*Snapshot) *SnapshotContainer {
	return &SnapshotContainer{Container: NewContainer(ComponentSnapshots, updatedAt, snapshots...)}
}

// ByPolicy returns the snapshots taken by the given policy ordered by creation
// time, oldest first. Snapshots without a creation time sort last.
func (c *SnapshotContainer) ByPolicy(policy PolicyType) []*Snapshot {
	var result []*Snapshot
	for _, s := range c.Items() {
		if s.PolicyType == policy {
			result = append(result, s)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i].CreatedAt, result[j].CreatedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.Before(*b)
	})
	return result
}

// PruneDeleted returns a copy without snapshots that have been deleted.
func (c *SnapshotContainer) PruneDeleted() *SnapshotContainer {
	pruned := NewSnapshotContainer(c.UpdatedAt())
	for _, s := range c.Items() {
		if !s.IsMissing() {
			pruned.Add(s)
		}
	}
	return pruned
}

// LastCreatedAt returns the newest creation time among the policy's snapshots.
func (c *SnapshotContainer) LastCreatedAt(policy PolicyType) *time.Time {
	var last *time.Time
	for _, s := range c.Items() {
		if s.PolicyType != policy || s.CreatedAt == nil {
			continue
		}
		if last == nil || s.CreatedAt.After(*last) {
			t := *s.CreatedAt
			last = &t
		}
	}
	return last
}

// SnapshotSuspendDelete reports whether snapshot deletion is globally suspended.
type SnapshotSuspendDelete struct {
	Base
	Suspended bool `json:"suspended"`
}

func (s *SnapshotSuspendDelete) Kind() ComponentName { return ComponentSnapshotSuspendDelete }

func (s *SnapshotSuspendDelete) Attributes() map[string]any {
	return map[string]any{"suspended": s.Suspended}
}

func (c *SnapshotContainer) UnmarshalJSON(data []byte) error {
	c.Container = NewContainer[*Snapshot](ComponentSnapshots, time.Time{})
	return c.Container.UnmarshalJSON(data)
}
