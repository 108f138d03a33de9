//go:build protogen

package directory

import (
	"context"
	"log/slog"
	"time"

	"github.com/slotwise/slotwise/libs/grpcx"
	directoryv1 "github.com/slotwise/slotwise/protos/gen/directory/v1"
)

type grpcProvider struct {
	client directoryv1.DirectoryServiceClient
}

func NewDirectoryProvider(logger *slog.Logger, addr string) (Provider, error) {
	if addr == "" {
		return NewStaticProvider(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("grpc directory provider unavailable, using static fallback", "err", err)
		return NewStaticProvider(), nil
	}

	logger.Info("grpc directory provider enabled", "addr", addr)
	return &grpcProvider{client: directoryv1.NewDirectoryServiceClient(conn)}, nil
}

func (p *grpcProvider) Profile(ctx context.Context, userID string) (Profile, error) {
	resp, err := p.client.GetUserProfile(ctx, &directoryv1.UserProfileRequest{UserId: userID})
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		UserID:      userID,
		DisplayName: resp.GetDisplayName(),
		Email:       resp.GetEmail(),
	}, nil
}
