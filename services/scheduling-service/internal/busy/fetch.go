package busy

import (
	"context"
	"log/slog"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
)

const defaultSourceTimeout = 3 * time.Second

// Fetcher aggregates a user's external busy intervals across all connected
// calendars. Provider failures degrade to an empty contribution with a
// warning: external calendars improve accuracy, they never block booking.
type Fetcher struct {
	connections ConnectionReader
	sources     map[string]Source
	logger      *slog.Logger
	timeout     time.Duration
}

func NewFetcher(connections ConnectionReader, logger *slog.Logger, sources ...Source) *Fetcher {
	byProvider := make(map[string]Source, len(sources))
	for _, s := range sources {
		byProvider[s.Provider()] = s
	}
	return &Fetcher{
		connections: connections,
		sources:     byProvider,
		logger:      logger,
		timeout:     defaultSourceTimeout,
	}
}

func (f *Fetcher) FetchBusy(ctx context.Context, userID string, from, to time.Time) []availability.Interval {
	conns, err := f.connections.ConnectionsForUser(ctx, userID)
	if err != nil {
		f.logger.Warn("calendar connections unavailable, treating as free",
			"user_id", userID, "err", err)
		return nil
	}

	var out []availability.Interval
	for _, conn := range conns {
		src, ok := f.sources[conn.Provider]
		if !ok {
			f.logger.Warn("no source for calendar provider", "provider", conn.Provider)
			continue
		}
		srcCtx, cancel := context.WithTimeout(ctx, f.timeout)
		intervals, err := src.Busy(srcCtx, conn, from, to)
		cancel()
		if err != nil {
			f.logger.Warn("external busy fetch degraded",
				"user_id", userID, "provider", conn.Provider, "err", err)
			continue
		}
		out = append(out, intervals...)
	}
	return out
}
