package storage

import (
	"context"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
)

// Read-only queries backing the public slot listing. These run outside the
// booking transaction; the orchestrator re-validates under lock, so listing
// reads can be slightly stale without risking a double booking.

func (s *Store) BusyIntervals(ctx context.Context, hostID string, from, to time.Time, excludeEventTypeID string) ([]availability.Interval, error) {
	rows, err := s.pool.Query(ctx, `
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

// SeatCounts returns booked seat counts per start instant for a group event
// type within [from, to).
func (s *Store) SeatCounts(ctx context.Context, eventTypeID string, from, to time.Time) (map[time.Time]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT start_time, count(*)
		FROM bookings
		WHERE event_type_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time >= $2
			AND start_time < $3
		GROUP BY start_time
	`, eventTypeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[time.Time]int)
	for rows.Next() {
		var start time.Time
		var n int
		if err := rows.Scan(&start, &n); err != nil {
			return nil, err
		}
		counts[start.UTC()] = n
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}
