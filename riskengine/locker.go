package riskengine

import (
	"context"
	"sync"
)

// LocalLocker is an in-process per-project mutex that honours context cancellation.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[int]*projectLock
}

type projectLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[int]*projectLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, projectId int) (func(), error) {
	l.mu.Lock()
	pl, ok := l.locks[projectId]
	if !ok {
		pl = &projectLock{sem: make(chan struct{}, 1)}
		l.locks[projectId] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(projectId, pl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-pl.sem
			l.unref(projectId, pl)
		})
	}, nil
}

// unref drops the entry once nobody holds or waits for it.
func (l *LocalLocker) unref(projectId int, pl *projectLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, projectId)
	}
}
