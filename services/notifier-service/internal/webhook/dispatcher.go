package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	SignatureHeader = "X-Slotwise-Signature"
	EventHeader     = "X-Slotwise-Event"
	DeliveryHeader  = "X-Slotwise-Delivery"
)

type Subscription struct {
	ID     string
	URL    string
	Secret string
}

type Delivery struct {
	SubscriptionID string
	EventID        string
	EventType      string
	StatusCode     int
	Error          string
}

// DeliveryRecorder persists the outcome of each delivery attempt.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d Delivery) error
}

// Dispatcher posts event payloads to subscriber endpoints, signing each
// request with the subscription secret so receivers can verify origin.
type Dispatcher struct {
	client   *http.Client
	recorder DeliveryRecorder
	logger   *slog.Logger
}

func NewDispatcher(client *http.Client, recorder DeliveryRecorder, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{client: client, recorder: recorder, logger: logger}
}

// Dispatch delivers payload to every subscription. Failed deliveries are
// recorded and logged but do not stop the remaining subscribers.
func (d *Dispatcher) Dispatch(ctx context.Context, subs []Subscription, eventID, eventType string, payload []byte) {
	for _, sub := range subs {
		status, err := d.deliver(ctx, sub, eventID, eventType, payload)
		record := Delivery{
			SubscriptionID: sub.ID,
			EventID:        eventID,
			EventType:      eventType,
			StatusCode:     status,
		}
		if err != nil {
			record.Error = err.Error()
			d.logger.Warn("webhook delivery failed", "subscription_id", sub.ID, "url", sub.URL, "err", err)
		}
		if d.recorder != nil {
			if err := d.recorder.RecordDelivery(ctx, record); err != nil {
				d.logger.Error("webhook delivery record failed", "subscription_id", sub.ID, "err", err)
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, eventID, eventType string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(sub.Secret, payload))
	req.Header.Set(EventHeader, eventType)
	req.Header.Set(DeliveryHeader, eventID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("subscriber returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
