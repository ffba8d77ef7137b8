package service

import (
	"context"
	"errors"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"
)

var ErrStatusTimeout = errors.New("camera did not reach the expected status")

// PollState reads getEvent without long polling. Within the cache TTL the
// same snapshot is returned.
func (c *Controller) PollState(ctx context.Context) (*domain.CameraState, error) {
	res, err := c.Invoke(ctx, "camera", "getEvent", scalarweb.Positional(false))
	if err != nil {
		return nil, err
	}
	return domain.ParseCameraState(res, time.Now())
}

// AwaitStatus polls until the camera reports status, giving up after tries
// polls spaced by interval. Keep interval above the cache TTL to observe
// fresh state on every try.
func (c *Controller) AwaitStatus(ctx context.Context, status string, tries int, interval time.Duration) (*domain.CameraState, error) {
	var last *domain.CameraState
	for i := 0; i < tries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(interval):
			}
		}
		state, err := c.PollState(ctx)
		if err != nil {
			return last, err
		}
		last = state
		if state.Status == status {
			return state, nil
		}
	}
	return last, ErrStatusTimeout
}
