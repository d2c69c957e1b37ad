package engine

import (
	"context"
	"fmt"
	"time"
)

// Refresher is the part of a Coordinator the refresh driver needs.
type Refresher interface {
	RefreshAll() error
}

// Refresh calls r.RefreshAll every interval until ctx ends. It is the only
// time-based invalidation in the system. Failures are passed to onError
// (which may be nil) and do not stop the ticker; a stopped manager does.
func Refresh(ctx context.Context, r Refresher, interval time.Duration, onError func(error)) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := r.RefreshAll()
			if err == nil {
				continue
			}
			if isStopped(err) {
				return err
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}
