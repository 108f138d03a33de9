package availability

import (
	"testing"
	"time"
)

func slotAt(h, m int, d time.Duration) Slot {
	start := time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
	return Slot{Start: start, End: start.Add(d)}
}

func TestIsSlotAvailable_BufferAfter(t *testing.T) {
	// Booked 10:00-10:30 with bufferAfter=15 on the candidate side: the
	// candidate's expanded start must clear the busy block.
	busy := []Interval{{Start: at(10, 0), End: at(10, 30)}}

	// 10:30-11:00 with bufferBefore=15 collides with the 10:00-10:30 booking.
	if IsSlotAvailable(slotAt(10, 30, 30*time.Minute), busy, 15*time.Minute, 0, 0, at(0, 0)) {
		t.Fatal("expected 10:30 slot with 15m pre-buffer to conflict")
	}
	// 10:45-11:15 clears it.
	if !IsSlotAvailable(slotAt(10, 45, 30*time.Minute), busy, 15*time.Minute, 0, 0, at(0, 0)) {
		t.Fatal("expected 10:45 slot with 15m pre-buffer to be free")
	}
}

func TestIsSlotAvailable_TouchingEndpointsDoNotConflict(t *testing.T) {
	busy := []Interval{{Start: at(10, 0), End: at(10, 30)}}
	if !IsSlotAvailable(slotAt(10, 30, 30*time.Minute), busy, 0, 0, 0, at(0, 0)) {
		t.Fatal("expected back-to-back slot to be available without buffers")
	}
	if !IsSlotAvailable(slotAt(9, 30, 30*time.Minute), busy, 0, 0, 0, at(0, 0)) {
		t.Fatal("expected slot ending at busy start to be available")
	}
}

func TestIsSlotAvailable_AsymmetricBuffers(t *testing.T) {
	busy := []Interval{{Start: at(12, 0), End: at(12, 30)}}

	// 11:45-12:00 ends exactly at the busy start: free without buffers,
	// conflicting once bufferAfter pushes the expanded end past 12:00.
	if !IsSlotAvailable(slotAt(11, 45, 15*time.Minute), busy, 0, 0, 0, at(0, 0)) {
		t.Fatal("expected unbuffered slot to be free")
	}
	if IsSlotAvailable(slotAt(11, 45, 15*time.Minute), busy, 0, 15*time.Minute, 0, at(0, 0)) {
		t.Fatal("expected 15m post-buffer past the busy start to conflict")
	}
	// 11:30-11:45 + 15m after touches 12:00 exactly; touching is not overlap.
	if !IsSlotAvailable(slotAt(11, 30, 15*time.Minute), busy, 0, 15*time.Minute, 0, at(0, 0)) {
		t.Fatal("expected buffered end touching busy start to be free")
	}
}

func TestIsSlotAvailable_MinimumNoticeBoundary(t *testing.T) {
	now := at(9, 0)
	notice := 60 * time.Minute

	// Exactly now + notice: accepted.
	if !IsSlotAvailable(slotAt(10, 0, 30*time.Minute), nil, 0, 0, notice, now) {
		t.Fatal("expected slot at exactly now+notice to be accepted")
	}
	// One minute earlier: rejected.
	if IsSlotAvailable(slotAt(9, 59, 30*time.Minute), nil, 0, 0, notice, now) {
		t.Fatal("expected slot one minute inside the notice window to be rejected")
	}
}
