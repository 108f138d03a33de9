package directory

import "context"

// Profile is the host-facing identity shown on booking confirmations.
type Profile struct {
	UserID      string
	DisplayName string
	Email       string
}

// Provider resolves host profiles from the user directory.
type Provider interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

type staticProvider struct{}

// NewStaticProvider returns a provider that echoes the user id. Used when no
// directory service is configured.
func NewStaticProvider() Provider {
	return &staticProvider{}
}

func (p *staticProvider) Profile(_ context.Context, userID string) (Profile, error) {
	return Profile{UserID: userID, DisplayName: userID}, nil
}
