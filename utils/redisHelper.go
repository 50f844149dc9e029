package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/riskwatch_backend/config"
)

func ProjectLockKey(projectId int) string {
	return fmt.Sprintf("risk-detect:project:%d", projectId)
}

// ObtainProjectLock waits up to wait for the project's redis lock and returns its release func.
// The lock expires after ttl even if the holder dies.
func ObtainProjectLock(ctx context.Context, projectId int, ttl time.Duration, wait time.Duration) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, fmt.Errorf("%w (redis lock not initialized)", ErrorServiceNotReady)
	}

	retries := int(wait / (250 * time.Millisecond))
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(250*time.Millisecond), retries),
	}
	lock, err := locker.Obtain(ctx, ProjectLockKey(projectId), ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		config.LogWarn(logger, "redisHelper.go", "ObtainProjectLock", "Could not obtain lock for project", projectId, err)
		return nil, ErrorLockNotObtained
	} else if err != nil {
		config.LogError(logger, "redisHelper.go", "ObtainProjectLock", "Error obtaining lock for project", projectId, err)
		return nil, err
	}

	return func() {
		// Release with a fresh context: the caller's ctx may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.LogWarn(logger, "redisHelper.go", "ObtainProjectLock", "Failed to release project lock", projectId, err)
		}
	}, nil
}

// RiskSweepLastRunKey holds the RFC3339 time of the last finished scheduled sweep.
const RiskSweepLastRunKey = "riskSweep:lastRun"

func AdvisoryCacheKey(projectId int, fingerprint string) string {
	return fmt.Sprintf("risk-advisory:%d:%s", projectId, fingerprint)
}
