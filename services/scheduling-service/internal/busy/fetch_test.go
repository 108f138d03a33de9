package busy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

type stubConnections struct {
	conns []model.CalendarConnection
	err   error
}

func (s stubConnections) ConnectionsForUser(ctx context.Context, userID string) ([]model.CalendarConnection, error) {
	return s.conns, s.err
}

type stubSource struct {
	provider  string
	intervals []availability.Interval
	err       error
}

func (s stubSource) Provider() string { return s.provider }

func (s stubSource) Busy(ctx context.Context, conn model.CalendarConnection, from, to time.Time) ([]availability.Interval, error) {
	return s.intervals, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchBusyDegradesOnSourceError(t *testing.T) {
	window := availability.Interval{
		Start: time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, time.March, 2, 11, 0, 0, 0, time.UTC),
	}
	conns := stubConnections{conns: []model.CalendarConnection{
		{Provider: "google", UserID: "u1"},
		{Provider: "ics", UserID: "u1"},
	}}
	f := NewFetcher(conns, discardLogger(),
		stubSource{provider: "google", err: errors.New("token expired")},
		stubSource{provider: "ics", intervals: []availability.Interval{window}},
	)

	got := f.FetchBusy(context.Background(), "u1", window.Start.Add(-time.Hour), window.End.Add(time.Hour))
	if len(got) != 1 {
		t.Fatalf("intervals = %d, want the healthy source's 1", len(got))
	}
}

func TestFetchBusyDegradesOnConnectionError(t *testing.T) {
	f := NewFetcher(stubConnections{err: errors.New("db down")}, discardLogger())
	if got := f.FetchBusy(context.Background(), "u1", time.Now(), time.Now().Add(time.Hour)); got != nil {
		t.Fatalf("expected nil intervals, got %+v", got)
	}
}

func TestFetchBusySkipsUnknownProvider(t *testing.T) {
	conns := stubConnections{conns: []model.CalendarConnection{{Provider: "outlook"}}}
	f := NewFetcher(conns, discardLogger())
	if got := f.FetchBusy(context.Background(), "u1", time.Now(), time.Now().Add(time.Hour)); got != nil {
		t.Fatalf("expected nil intervals, got %+v", got)
	}
}
