package busy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

// GoogleSource queries the Google Calendar FreeBusy endpoint. The connection's
// credentials hold the user's OAuth token as JSON; refreshes go through the
// platform's client id and secret.
type GoogleSource struct {
	cfg *oauth2.Config
}

func NewGoogleSource(clientID, clientSecret string) *GoogleSource {
	return &GoogleSource{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     googleoauth.Endpoint,
		},
	}
}

func (s *GoogleSource) Provider() string { return "google" }

func (s *GoogleSource) Busy(ctx context.Context, conn model.CalendarConnection, from, to time.Time) ([]availability.Interval, error) {
	token := &oauth2.Token{}
	if err := json.Unmarshal(conn.Credentials, token); err != nil {
		return nil, fmt.Errorf("decode google token: %w", err)
	}

	svc, err := calendar.NewService(ctx, option.WithTokenSource(s.cfg.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	calendarID := conn.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	var out []availability.Interval
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			continue
		}
		out = append(out, availability.Interval{Start: start.UTC(), End: end.UTC()})
	}
	return out, nil
}
