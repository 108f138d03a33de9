package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/slotwise/slotwise/libs/kafkax"
	"github.com/slotwise/slotwise/services/notifier-service/internal/email"
	"github.com/slotwise/slotwise/services/notifier-service/internal/storage"
	"github.com/slotwise/slotwise/services/notifier-service/internal/webhook"
)

const (
	EventBookingCreated   = "scheduling.booking.created.v1"
	EventBookingConfirmed = "scheduling.booking.confirmed.v1"
	EventBookingCancelled = "scheduling.booking.cancelled.v1"
)

// BookingPayload mirrors the scheduling service's booking event body.
type BookingPayload struct {
	BookingID        string    `json:"booking_id"`
	EventTypeID      string    `json:"event_type_id"`
	HostID           string    `json:"host_id"`
	AssignedUserID   string    `json:"assigned_user_id,omitempty"`
	InviteeName      string    `json:"invitee_name"`
	InviteeEmail     string    `json:"invitee_email"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Timezone         string    `json:"timezone"`
	Status           string    `json:"status"`
	RecurringGroupID string    `json:"recurring_group_id,omitempty"`
	RecurringIndex   int       `json:"recurring_index,omitempty"`
	RecurringCount   int       `json:"recurring_count,omitempty"`
}

type SubscriptionSource interface {
	SubscriptionsForEvent(ctx context.Context, eventType string) ([]webhook.Subscription, error)
}

type NotificationLog interface {
	Insert(ctx context.Context, n storage.Notification) error
}

// Notifier turns booking lifecycle events into invitee emails and signed
// webhook deliveries.
type Notifier struct {
	sender        email.Sender
	dispatcher    *webhook.Dispatcher
	subscriptions SubscriptionSource
	log           NotificationLog
	logger        *slog.Logger
}

func New(sender email.Sender, dispatcher *webhook.Dispatcher, subs SubscriptionSource, log NotificationLog, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:        sender,
		dispatcher:    dispatcher,
		subscriptions: subs,
		log:           log,
		logger:        logger,
	}
}

// Handle builds a consumer handler for one event type. Malformed payloads
// are an error; email and webhook failures are logged and recorded but do
// not fail the message, since retrying cannot fix a dead mailbox.
func (n *Notifier) Handle(eventType string) func(ctx context.Context, msg kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload BookingPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", eventType, err)
		}
		if payload.BookingID == "" || payload.InviteeEmail == "" {
			return fmt.Errorf("event %s missing booking_id or invitee_email", eventType)
		}

		n.sendEmail(ctx, eventType, payload)
		n.fireWebhooks(ctx, eventType, kafkax.ExtractEventMeta(msg).EventID, msg.Value)
		return nil
	}
}

func (n *Notifier) sendEmail(ctx context.Context, eventType string, payload BookingPayload) {
	subject, body := Compose(eventType, payload)
	if subject == "" {
		n.logger.Warn("no email template for event", "event_type", eventType)
		return
	}

	record := storage.Notification{
		BookingID: payload.BookingID,
		Channel:   "email",
		Recipient: payload.InviteeEmail,
		Subject:   subject,
		Status:    "sent",
	}
	if err := n.sender.Send(payload.InviteeEmail, subject, body); err != nil {
		n.logger.Error("email send failed", "booking_id", payload.BookingID, "to", payload.InviteeEmail, "err", err)
		record.Status = "failed"
		record.Error = err.Error()
	} else {
		n.logger.Info("email sent", "booking_id", payload.BookingID, "to", payload.InviteeEmail, "event_type", eventType)
	}

	if n.log != nil {
		if err := n.log.Insert(ctx, record); err != nil {
			n.logger.Error("notification log insert failed", "booking_id", payload.BookingID, "err", err)
		}
	}
}

func (n *Notifier) fireWebhooks(ctx context.Context, eventType, eventID string, payload []byte) {
	if n.dispatcher == nil || n.subscriptions == nil {
		return
	}
	subs, err := n.subscriptions.SubscriptionsForEvent(ctx, eventType)
	if err != nil {
		n.logger.Error("load webhook subscriptions failed", "event_type", eventType, "err", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	n.dispatcher.Dispatch(ctx, subs, eventID, eventType, payload)
}

// Compose returns the invitee-facing subject and body for an event.
// Times are rendered in the invitee's timezone when it parses.
func Compose(eventType string, p BookingPayload) (subject, body string) {
	when := formatWhen(p)

	var b strings.Builder
	name := p.InviteeName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)

	switch eventType {
	case EventBookingCreated:
		if p.Status == "pending" {
			subject = "Booking request received"
			fmt.Fprintf(&b, "We received your booking request for %s.\n", when)
			b.WriteString("You will get another email once the host confirms.\n")
		} else {
			subject = "Booking scheduled"
			fmt.Fprintf(&b, "Your booking is scheduled for %s.\n", when)
		}
		if p.RecurringCount > 1 {
			fmt.Fprintf(&b, "This is occurrence %d of %d in a recurring series.\n", p.RecurringIndex+1, p.RecurringCount)
		}
	case EventBookingConfirmed:
		subject = "Booking confirmed"
		fmt.Fprintf(&b, "Your booking for %s has been confirmed.\n", when)
	case EventBookingCancelled:
		subject = "Booking cancelled"
		fmt.Fprintf(&b, "Your booking for %s has been cancelled.\n", when)
	default:
		return "", ""
	}

	fmt.Fprintf(&b, "\nBooking reference: %s\n", p.BookingID)
	return subject, b.String()
}

func formatWhen(p BookingPayload) string {
	start, end := p.StartTime, p.EndTime
	if loc, err := time.LoadLocation(p.Timezone); err == nil && p.Timezone != "" {
		start = start.In(loc)
		end = end.In(loc)
	}
	return fmt.Sprintf("%s to %s", start.Format("Mon, 2 Jan 2006 15:04 MST"), end.Format("15:04 MST"))
}
