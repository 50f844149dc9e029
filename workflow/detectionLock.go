package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"gorm.io/gorm"
)

// RedisProjectLocker serializes cycles across instances with redislock.
type RedisProjectLocker struct {
	TTL  time.Duration
	Wait time.Duration
}

func (l RedisProjectLocker) Lock(ctx context.Context, projectId int) (func(), error) {
	return utils.ObtainProjectLock(ctx, projectId, l.TTL, l.Wait)
}

// MySQLProjectLocker uses GET_LOCK. The lock belongs to a connection, so each Lock pins one
// pooled connection until release.
type MySQLProjectLocker struct {
	DB      *gorm.DB
	Timeout time.Duration
}

func projectLockName(projectId int) string {
	return fmt.Sprintf("risk-detect:%d", projectId)
}

func (l MySQLProjectLocker) Lock(ctx context.Context, projectId int) (func(), error) {
	sqlDB, err := l.DB.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	name := projectLockName(projectId)
	timeout := int(l.Timeout / time.Second)
	if timeout <= 0 {
		timeout = 30
	}
	var ok sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, timeout).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !ok.Valid || ok.Int64 != 1 {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", utils.ErrorLockNotObtained, name)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var released sql.NullInt64
		if err := conn.QueryRowContext(releaseCtx, "SELECT RELEASE_LOCK(?)", name).Scan(&released); err != nil {
			config.LogWarn(config.GetLogger(), "workflow", "MySQLProjectLocker", "release lock", projectId, err)
		}
		_ = conn.Close()
	}, nil
}

// NewProjectLocker picks the lock backend: "redis", "mysql", anything else is in-process.
// A redis backend without a redis connection falls back to mysql.
func NewProjectLocker(backend string, db *gorm.DB) riskengine.ProjectLocker {
	switch backend {
	case "redis":
		if config.GetRedisLock() != nil {
			return RedisProjectLocker{TTL: 2 * time.Minute, Wait: 30 * time.Second}
		}
		config.LogWarn(config.GetLogger(), "workflow", "NewProjectLocker", "redis not connected, using mysql locks", backend, utils.ErrorServiceNotReady)
		return MySQLProjectLocker{DB: db, Timeout: 30 * time.Second}
	case "mysql":
		return MySQLProjectLocker{DB: db, Timeout: 30 * time.Second}
	}
	return riskengine.NewLocalLocker()
}
