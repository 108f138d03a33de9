package teams

import (
	"errors"
	"testing"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

var abc = []model.TeamMember{
	{UserID: "A", Priority: 0, IsActive: true},
	{UserID: "B", Priority: 0, IsActive: true},
	{UserID: "C", Priority: 0, IsActive: true},
}

func allFree(string) bool { return true }

func freeExcept(busy ...string) AvailabilityFn {
	return func(id string) bool {
		for _, b := range busy {
			if b == id {
				return false
			}
		}
		return true
	}
}

func TestRoundRobin_AdvancesPastLastAssigned(t *testing.T) {
	got, err := ResolveRoundRobin(abc, "B", allFree)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "C" {
		t.Fatalf("expected C after B, got %s", got)
	}
}

func TestRoundRobin_WrapsAroundBusyMembers(t *testing.T) {
	got, err := ResolveRoundRobin(abc, "B", freeExcept("C"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "A" {
		t.Fatalf("expected wrap to A when C is busy, got %s", got)
	}
}

func TestRoundRobin_NoPointerStartsAtHead(t *testing.T) {
	got, err := ResolveRoundRobin(abc, "", allFree)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "A" {
		t.Fatalf("expected A with no rotation pointer, got %s", got)
	}
}

func TestRoundRobin_UnknownPointerStartsAtHead(t *testing.T) {
	got, err := ResolveRoundRobin(abc, "departed-user", allFree)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "A" {
		t.Fatalf("expected A with stale rotation pointer, got %s", got)
	}
}

func TestRoundRobin_Exhaustion(t *testing.T) {
	_, err := ResolveRoundRobin(abc, "A", freeExcept("A", "B", "C"))
	if !errors.Is(err, ErrNoMemberAvailable) {
		t.Fatalf("expected ErrNoMemberAvailable, got %v", err)
	}
}

func TestRoundRobin_SkipsInactive(t *testing.T) {
	members := []model.TeamMember{
		{UserID: "A", IsActive: true},
		{UserID: "B", IsActive: false},
		{UserID: "C", IsActive: true},
	}
	got, err := ResolveRoundRobin(members, "A", allFree)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "C" {
		t.Fatalf("expected inactive B to be skipped, got %s", got)
	}
}

func TestRoundRobin_PriorityOrder(t *testing.T) {
	members := []model.TeamMember{
		{UserID: "low", Priority: 1, IsActive: true},
		{UserID: "high", Priority: 5, IsActive: true},
	}
	got, err := ResolveRoundRobin(members, "", allFree)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "high" {
		t.Fatalf("expected highest priority first, got %s", got)
	}
}

func TestCollective_AllMustBeFree(t *testing.T) {
	if _, err := ResolveCollective(abc, freeExcept("B")); !errors.Is(err, ErrNoMemberAvailable) {
		t.Fatalf("expected one busy member to reject the slot, got %v", err)
	}

	host, err := ResolveCollective(abc, allFree)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if host != "A" {
		t.Fatalf("expected first member as nominal host, got %s", host)
	}
}

func TestCollective_NoActiveMembers(t *testing.T) {
	members := []model.TeamMember{{UserID: "A", IsActive: false}}
	if _, err := ResolveCollective(members, allFree); !errors.Is(err, ErrNoMemberAvailable) {
		t.Fatalf("expected ErrNoMemberAvailable, got %v", err)
	}
}
