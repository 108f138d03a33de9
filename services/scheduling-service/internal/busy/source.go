package busy

import (
	"context"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/availability"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

// Source reads busy intervals from one external calendar provider.
type Source interface {
	// Provider matches model.CalendarConnection.Provider.
	Provider() string
	// Busy returns the connection's busy intervals intersecting [from, to).
	Busy(ctx context.Context, conn model.CalendarConnection, from, to time.Time) ([]availability.Interval, error)
}

// ConnectionReader loads a user's calendar connections.
type ConnectionReader interface {
	ConnectionsForUser(ctx context.Context, userID string) ([]model.CalendarConnection, error)
}
