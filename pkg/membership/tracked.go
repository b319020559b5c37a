package membership

import (
	"slices"

	"replybot/pkg/channel"
)

// Tracked pairs a configured target with the channel it resolved to.
type Tracked struct {
	Target  string
	Channel channel.ResolvedChannel
}

// TrackedSet is an immutable snapshot of the channels being answered.
// A nil *TrackedSet behaves as an empty set.
type TrackedSet struct {
	targets  []Tracked
	ids      map[int64]struct{}
	byTarget map[string]int64
}

// NewTrackedSet builds a snapshot from target/channel pairs.
func NewTrackedSet(targets []Tracked) *TrackedSet {
	set := &TrackedSet{
		targets:  slices.Clone(targets),
		ids:      make(map[int64]struct{}, len(targets)),
		byTarget: make(map[string]int64, len(targets)),
	}
	for _, t := range targets {
		set.ids[t.Channel.ID] = struct{}{}
		set.byTarget[t.Target] = t.Channel.ID
	}

	return set
}

// Contains reports whether chatID belongs to a tracked channel.
func (s *TrackedSet) Contains(chatID int64) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids[chatID]
	return ok
}

// HasTarget reports whether the raw target string is tracked.
func (s *TrackedSet) HasTarget(target string) bool {
	if s == nil {
		return false
	}
	_, ok := s.byTarget[target]
	return ok
}

// Len returns the number of tracked targets.
func (s *TrackedSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.targets)
}

// IDs returns the distinct tracked chat ids in ascending order.
func (s *TrackedSet) IDs() []int64 {
	if s == nil {
		return nil
	}
	ids := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Targets returns the tracked targets in the order they were added.
func (s *TrackedSet) Targets() []Tracked {
	if s == nil {
		return nil
	}
	return slices.Clone(s.targets)
}
