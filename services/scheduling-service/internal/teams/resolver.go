package teams

import (
	"errors"
	"sort"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

// ErrNoMemberAvailable is returned when a full round-robin pass finds no free
// member, or a collective check fails. There is no partial fallback to the
// event-type owner.
var ErrNoMemberAvailable = errors.New("no team member available for the requested slot")

// AvailabilityFn reports whether one member is free for the requested slot.
// The caller supplies it closed over the per-member merged busy sets.
type AvailabilityFn func(userID string) bool

// ActiveOrdered filters inactive members and orders the rest into rotation
// order: higher priority first, input order breaking ties.
func ActiveOrdered(members []model.TeamMember) []model.TeamMember {
	active := make([]model.TeamMember, 0, len(members))
	for _, m := range members {
		if m.IsActive {
			active = append(active, m)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })
	return active
}

// ResolveRoundRobin walks the rotation order starting after the last-assigned
// member, wrapping around, and returns the first available member. The caller
// owns advancing the rotation pointer; this function never mutates state.
func ResolveRoundRobin(members []model.TeamMember, lastAssigned string, isAvailable AvailabilityFn) (string, error) {
	active := ActiveOrdered(members)
	if len(active) == 0 {
		return "", ErrNoMemberAvailable
	}

	start := 0
	if lastAssigned != "" {
		for i, m := range active {
			if m.UserID == lastAssigned {
				start = i + 1
				break
			}
		}
	}

	for i := 0; i < len(active); i++ {
		m := active[(start+i)%len(active)]
		if isAvailable(m.UserID) {
			return m.UserID, nil
		}
	}
	return "", ErrNoMemberAvailable
}

// ResolveCollective requires every active member to be free. On success it
// returns the nominal host (the first member in rotation order); all members
// are understood to participate.
func ResolveCollective(members []model.TeamMember, isAvailable AvailabilityFn) (string, error) {
	active := ActiveOrdered(members)
	if len(active) == 0 {
		return "", ErrNoMemberAvailable
	}
	for _, m := range active {
		if !isAvailable(m.UserID) {
			return "", ErrNoMemberAvailable
		}
	}
	return active[0].UserID, nil
}
