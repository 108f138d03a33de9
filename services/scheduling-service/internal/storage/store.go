package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/booking"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/outbox"
)

// Store backs the booking pipeline with Postgres. Mutual exclusion uses one
// advisory transaction lock per host id, taken in sorted order so concurrent
// multi-host requests cannot deadlock. A range exclusion constraint on
// bookings backstops the advisory locks.
type Store struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewStore(pool *db.Pool, outboxRepo *outbox.Repository) *Store {
	return &Store{pool: pool, outbox: outboxRepo}
}

func (s *Store) WithHostLocks(ctx context.Context, hostIDs []string, fn func(tx booking.Tx) error) error {
	ids := append([]string(nil), hostIDs...)
	sort.Strings(ids)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 42))`, id); err != nil {
			return err
		}
	}

	if err := fn(&bookingTx{tx: tx, outbox: s.outbox}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type bookingTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *bookingTx) BusyBookings(ctx context.Context, hostID string, from, to time.Time, excludeEventTypeID string) ([]availability.Interval, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT busy_start, busy_end
		FROM bookings
		WHERE host_id = $1
			AND status IN ('pending', 'confirmed')
			AND busy_start < $3
			AND busy_end > $2
			AND ($4 = '' OR event_type_id::text <> $4)
		ORDER BY busy_start ASC
	`, hostID, from, to, excludeEventTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (t *bookingTx) CountBookingsForDay(ctx context.Context, eventTypeID string, dayStart, dayEnd time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings
		WHERE event_type_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time >= $2
			AND start_time < $3
	`, eventTypeID, dayStart, dayEnd).Scan(&n)
	return n, err
}

func (t *bookingTx) CountSeats(ctx context.Context, eventTypeID string, start time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings
		WHERE event_type_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time = $2
	`, eventTypeID, start).Scan(&n)
	return n, err
}

func (t *bookingTx) InsertBookings(ctx context.Context, bookings []*model.Booking, bufferBefore, bufferAfter time.Duration, group bool) error {
	for _, b := range bookings {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO bookings
				(id, event_type_id, host_id, assigned_user_id, invitee_name, invitee_email,
				start_time, end_time, busy_start, busy_end, timezone, status, is_group,
				recurring_group_id, recurring_index, recurring_count)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16)
		`, b.ID, b.EventTypeID, b.HostID, b.AssignedUserID, b.InviteeName, b.InviteeEmail,
			b.StartTime, b.EndTime, b.StartTime.Add(-bufferBefore), b.EndTime.Add(bufferAfter),
			b.Timezone, b.Status, group, b.RecurringGroupID, b.RecurringIndex, b.RecurringCount)
		if err != nil {
			if IsConflict(err) {
				return booking.ErrSlotNoLongerAvailable
			}
			return err
		}
	}
	return nil
}

func (t *bookingTx) RotationPointer(ctx context.Context, eventTypeID string) (string, error) {
	var last string
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(last_assigned_member_id::text, '')
		FROM rotation_state
		WHERE event_type_id = $1
	`, eventTypeID).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return last, err
}

func (t *bookingTx) AdvanceRotation(ctx context.Context, eventTypeID, from, to string) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO rotation_state (event_type_id, last_assigned_member_id, updated_at)
		VALUES ($1, $3, now())
		ON CONFLICT (event_type_id) DO UPDATE
		SET last_assigned_member_id = EXCLUDED.last_assigned_member_id,
			updated_at = now()
		WHERE rotation_state.last_assigned_member_id IS NOT DISTINCT FROM NULLIF($2, '')
	`, eventTypeID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrRotationConflict
	}
	return nil
}

func (t *bookingTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

// IsConflict reports a range exclusion violation (SQLSTATE 23P01).
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
