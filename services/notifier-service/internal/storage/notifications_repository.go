package storage

import (
	"context"
	"fmt"

	"github.com/slotwise/slotwise/libs/db"
)

type NotificationsRepository struct {
	pool *db.Pool
}

func NewNotificationsRepository(pool *db.Pool) *NotificationsRepository {
	return &NotificationsRepository{pool: pool}
}

type Notification struct {
	BookingID string
	Channel   string
	Recipient string
	Subject   string
	Status    string
	Error     string
}

func (r *NotificationsRepository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (booking_id, channel, recipient, subject, status, error)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, n.BookingID, n.Channel, n.Recipient, n.Subject, n.Status, n.Error)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
