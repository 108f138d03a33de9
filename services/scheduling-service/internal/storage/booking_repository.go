package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

const bookingColumns = `
	id::text, event_type_id::text, host_id::text, COALESCE(assigned_user_id::text, ''),
	invitee_name, invitee_email, start_time, end_time, timezone, status,
	COALESCE(recurring_group_id::text, ''), recurring_index, recurring_count,
	cancelled_at, created_at`

// BookingRepository covers the lifecycle of committed bookings: lookups,
// confirmation, cancellation, and the idempotency-key replay table. Creation
// goes through the orchestrator's locked transaction instead.
type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var cancelledAt *time.Time
	err := row.Scan(
		&b.ID,
		&b.EventTypeID,
		&b.HostID,
		&b.AssignedUserID,
		&b.InviteeName,
		&b.InviteeEmail,
		&b.StartTime,
		&b.EndTime,
		&b.Timezone,
		&b.Status,
		&b.RecurringGroupID,
		&b.RecurringIndex,
		&b.RecurringCount,
		&cancelledAt,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.CancelledAt = cancelledAt
	return b, nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (model.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id))
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Booking, error) {
	return scanBooking(tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, id))
}

// Cancel marks one booking cancelled; cancelling the first occurrence of a
// recurring series cancels nothing else, each occurrence is cancelled on its
// own. Returns the cancellation instant.
func (r *BookingRepository) Cancel(ctx context.Context, tx pgx.Tx, id, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = NULLIF($2, '')
		WHERE id = $1
		RETURNING cancelled_at
	`, id, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// Confirm moves a pending booking to confirmed. Rows in any other status are
// left untouched and reported via the bool.
func (r *BookingRepository) Confirm(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'confirmed'
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *BookingRepository) ListByEventType(ctx context.Context, eventTypeID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE event_type_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, eventTypeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

type IdempotencyRecord struct {
	EventTypeID     string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

// LockIdempotencyKey claims a key for the current transaction. The bool
// reports whether the key already existed; an existing finalized record's
// payload is replayed instead of re-booking.
func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, eventTypeID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, eventTypeID, key)
	if err == nil {
		return rec, true, nil
	}
	if !IsNotFound(err) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (event_type_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (event_type_id, idempotency_key) DO NOTHING
	`, eventTypeID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, eventTypeID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, eventTypeID, key, bookingID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = NULLIF($3, '')::uuid,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE event_type_id = $1 AND idempotency_key = $2
	`, eventTypeID, key, bookingID, statusCode, response)
	return err
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, eventTypeID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT event_type_id::text,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE event_type_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, eventTypeID, key).Scan(
		&rec.EventTypeID,
		&rec.IdempotencyKey,
		&rec.BookingID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
