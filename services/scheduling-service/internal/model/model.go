package model

import "time"

type SchedulingMode string

const (
	SchedulingSolo       SchedulingMode = "solo"
	SchedulingRoundRobin SchedulingMode = "round_robin"
	SchedulingCollective SchedulingMode = "collective"
	SchedulingManaged    SchedulingMode = "managed"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusRejected  BookingStatus = "rejected"
	StatusSkipped   BookingStatus = "skipped"
	StatusCompleted BookingStatus = "completed"
)

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// EventType is the scheduling configuration a host publishes.
type EventType struct {
	ID                   string
	OwnerID              string
	Title                string
	DurationMinutes      int
	SlotIntervalMinutes  int // 0 means same as duration
	BufferBeforeMinutes  int
	BufferAfterMinutes   int
	MinimumNoticeMinutes int
	BookingWindowDays    int // rolling window from now; 0 means the platform default
	MaxBookingsPerDay    int // 0 means unlimited
	SeatsPerSlot         int // >1 enables group bookings at the same start instant
	RequiresConfirmation bool
	RecurringAllowed     bool
	RecurringMaxCount    int
	RecurringFrequency   Frequency // default when the request omits one
	SchedulingMode       SchedulingMode
	CreatedAt            time.Time
}

func (e EventType) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

func (e EventType) SlotInterval() time.Duration {
	if e.SlotIntervalMinutes > 0 {
		return time.Duration(e.SlotIntervalMinutes) * time.Minute
	}
	return e.Duration()
}

func (e EventType) BufferBefore() time.Duration {
	return time.Duration(e.BufferBeforeMinutes) * time.Minute
}

func (e EventType) BufferAfter() time.Duration {
	return time.Duration(e.BufferAfterMinutes) * time.Minute
}

func (e EventType) MinimumNotice() time.Duration {
	return time.Duration(e.MinimumNoticeMinutes) * time.Minute
}

func (e EventType) IsGroup() bool {
	return e.SeatsPerSlot > 1
}

// WeeklyWindow is one recurring availability window, wall-clock in the host's
// schedule timezone. Minutes are counted from midnight.
type WeeklyWindow struct {
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

// DateOverride replaces the weekly windows for its exact calendar date.
// IsWorking=false blocks the whole day.
type DateOverride struct {
	Date        string // 2006-01-02, host-local
	IsWorking   bool
	StartMinute int
	EndMinute   int
}

// Schedule is a host's availability profile. Weekly windows are replaced
// wholesale on edit.
type Schedule struct {
	HostID    string
	Timezone  string
	Weekly    []WeeklyWindow
	Overrides []DateOverride
}

type TeamMember struct {
	UserID   string
	Priority int
	IsActive bool
}

// Booking is one committed (or pending) meeting occurrence.
type Booking struct {
	ID               string
	EventTypeID      string
	HostID           string // whose calendar the occurrence blocks
	AssignedUserID   string // set by round-robin; empty for solo/collective/managed
	InviteeName      string
	InviteeEmail     string
	StartTime        time.Time
	EndTime          time.Time
	Timezone         string // invitee timezone, display only
	Status           BookingStatus
	RecurringGroupID string
	RecurringIndex   int
	RecurringCount   int
	CancelledAt      *time.Time
	CreatedAt        time.Time
}

// CalendarConnection links a user to one external busy-time source.
type CalendarConnection struct {
	ID          string
	UserID      string
	Provider    string // "google" or "ics"
	CalendarID  string // provider calendar id (google)
	FeedURL     string // ics feed url
	Credentials []byte // provider token material (google oauth token JSON)
}
