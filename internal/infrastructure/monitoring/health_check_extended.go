package monitoring

import (
	"context"
	"fmt"
	"time"
)

// AddPingCheck adds a check that passes when ping returns nil, such as the
// repository factory's Redis ping.
func (h *HealthChecker) AddPingCheck(name string, ping func(ctx context.Context) error, interval, timeout time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if err := ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddCapacityCheck fails once current() reaches max. A non-positive max
// disables the check.
func (h *HealthChecker) AddCapacityCheck(name string, current func() int, max int) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if max <= 0 {
			return true, nil
		}
		if n := current(); n >= max {
			return false, fmt.Errorf("%s at capacity: %d/%d", name, n, max)
		}
		return true, nil
	}, 0, 0)
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
