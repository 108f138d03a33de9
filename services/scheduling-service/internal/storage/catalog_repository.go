package storage

import (
	"context"
	"time"

	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

// CatalogRepository reads and writes the scheduling configuration: event
// types, host schedules and team rosters.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) EventType(ctx context.Context, id string) (model.EventType, error) {
	var et model.EventType
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, title, duration_minutes, slot_interval_minutes,
			buffer_before_minutes, buffer_after_minutes, minimum_notice_minutes,
			booking_window_days, max_bookings_per_day, seats_per_slot,
			requires_confirmation, recurring_allowed, recurring_max_count,
			COALESCE(recurring_frequency, 'weekly'), scheduling_mode, created_at
		FROM event_types
		WHERE id = $1
	`, id).Scan(
		&et.ID,
		&et.OwnerID,
		&et.Title,
		&et.DurationMinutes,
		&et.SlotIntervalMinutes,
		&et.BufferBeforeMinutes,
		&et.BufferAfterMinutes,
		&et.MinimumNoticeMinutes,
		&et.BookingWindowDays,
		&et.MaxBookingsPerDay,
		&et.SeatsPerSlot,
		&et.RequiresConfirmation,
		&et.RecurringAllowed,
		&et.RecurringMaxCount,
		&et.RecurringFrequency,
		&et.SchedulingMode,
		&et.CreatedAt,
	)
	if err != nil {
		return model.EventType{}, err
	}
	return et, nil
}

func (r *CatalogRepository) Schedule(ctx context.Context, hostID string) (model.Schedule, error) {
	sched := model.Schedule{HostID: hostID}
	err := r.pool.QueryRow(ctx, `
		SELECT timezone FROM schedules WHERE host_id = $1
	`, hostID).Scan(&sched.Timezone)
	if err != nil {
		return model.Schedule{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM schedule_weekly_windows
		WHERE host_id = $1
		ORDER BY weekday, start_minute
	`, hostID)
	if err != nil {
		return model.Schedule{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var w model.WeeklyWindow
		var weekday int
		if err := rows.Scan(&weekday, &w.StartMinute, &w.EndMinute); err != nil {
			return model.Schedule{}, err
		}
		w.Weekday = time.Weekday(weekday)
		sched.Weekly = append(sched.Weekly, w)
	}
	if rows.Err() != nil {
		return model.Schedule{}, rows.Err()
	}

	orows, err := r.pool.Query(ctx, `
		SELECT to_char(override_date, 'YYYY-MM-DD'), is_working, COALESCE(start_minute, 0), COALESCE(end_minute, 0)
		FROM schedule_overrides
		WHERE host_id = $1
		ORDER BY override_date
	`, hostID)
	if err != nil {
		return model.Schedule{}, err
	}
	defer orows.Close()
	for orows.Next() {
		var o model.DateOverride
		if err := orows.Scan(&o.Date, &o.IsWorking, &o.StartMinute, &o.EndMinute); err != nil {
			return model.Schedule{}, err
		}
		sched.Overrides = append(sched.Overrides, o)
	}
	if orows.Err() != nil {
		return model.Schedule{}, orows.Err()
	}
	return sched, nil
}

func (r *CatalogRepository) TeamMembers(ctx context.Context, eventTypeID string) ([]model.TeamMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id::text, priority, is_active
		FROM team_members
		WHERE event_type_id = $1
		ORDER BY priority DESC, created_at ASC
	`, eventTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.TeamMember
	for rows.Next() {
		var m model.TeamMember
		if err := rows.Scan(&m.UserID, &m.Priority, &m.IsActive); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return members, nil
}

func (r *CatalogRepository) ConnectionsForUser(ctx context.Context, userID string) ([]model.CalendarConnection, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, user_id::text, provider, COALESCE(calendar_id, ''), COALESCE(feed_url, ''), COALESCE(credentials, '')
		FROM calendar_connections
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []model.CalendarConnection
	for rows.Next() {
		var c model.CalendarConnection
		var creds string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Provider, &c.CalendarID, &c.FeedURL, &creds); err != nil {
			return nil, err
		}
		if creds != "" {
			c.Credentials = []byte(creds)
		}
		conns = append(conns, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return conns, nil
}

// ReplaceWeeklyWindows swaps a host's whole weekly availability in one
// transaction, creating the schedule row on first write.
func (r *CatalogRepository) ReplaceWeeklyWindows(ctx context.Context, hostID, timezone string, windows []model.WeeklyWindow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO schedules (host_id, timezone)
		VALUES ($1, $2)
		ON CONFLICT (host_id) DO UPDATE SET timezone = EXCLUDED.timezone, updated_at = now()
	`, hostID, timezone)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM schedule_weekly_windows WHERE host_id = $1`, hostID); err != nil {
		return err
	}
	for _, w := range windows {
		_, err := tx.Exec(ctx, `
			INSERT INTO schedule_weekly_windows (host_id, weekday, start_minute, end_minute)
			VALUES ($1, $2, $3, $4)
		`, hostID, int(w.Weekday), w.StartMinute, w.EndMinute)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ReplaceOverrides swaps a host's date overrides wholesale.
func (r *CatalogRepository) ReplaceOverrides(ctx context.Context, hostID string, overrides []model.DateOverride) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM schedule_overrides WHERE host_id = $1`, hostID); err != nil {
		return err
	}
	for _, o := range overrides {
		_, err := tx.Exec(ctx, `
			INSERT INTO schedule_overrides (host_id, override_date, is_working, start_minute, end_minute)
			VALUES ($1, $2::date, $3, $4, $5)
		`, hostID, o.Date, o.IsWorking, o.StartMinute, o.EndMinute)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
