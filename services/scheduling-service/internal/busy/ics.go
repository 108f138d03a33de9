package busy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emersion/go-ical"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

// ICSSource reads busy intervals from a published iCalendar feed. Events
// marked transparent do not block time.
type ICSSource struct {
	client *http.Client
}

func NewICSSource(client *http.Client) *ICSSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &ICSSource{client: client}
}

func (s *ICSSource) Provider() string { return "ics" }

func (s *ICSSource) Busy(ctx context.Context, conn model.CalendarConnection, from, to time.Time) ([]availability.Interval, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, conn.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}
	return parseFeed(resp.Body, from, to)
}

// parseFeed extracts busy intervals from one or more calendars in a feed,
// clipped to events intersecting [from, to).
func parseFeed(r io.Reader, from, to time.Time) ([]availability.Interval, error) {
	var out []availability.Interval
	dec := ical.NewDecoder(r)
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode feed: %w", err)
		}
		for _, ev := range cal.Events() {
			if transparency, err := ev.Props.Text(ical.PropTransparency); err == nil && transparency == "TRANSPARENT" {
				continue
			}
			start, err := ev.DateTimeStart(time.UTC)
			if err != nil {
				continue
			}
			end, err := ev.DateTimeEnd(time.UTC)
			if err != nil || !end.After(start) {
				continue
			}
			if start.Before(to) && from.Before(end) {
				out = append(out, availability.Interval{Start: start.UTC(), End: end.UTC()})
			}
		}
	}
	return out, nil
}
