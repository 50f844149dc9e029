package riskengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type SweepReport struct {
	Projects   int            `json:"projects"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Candidates int            `json:"candidates"`
	Created    int            `json:"created"`
	Updated    int            `json:"updated"`
	Resolved   int            `json:"resolved"`
	Failures   map[int]string `json:"failures,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// Sweep runs a cycle for every project the snapshot source lists.
func (e *Engine) Sweep(ctx context.Context, concurrency int) (*SweepReport, error) {
	ids, err := e.snapshots.ListSweepProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sweep projects: %w", err)
	}
	return e.SweepProjects(ctx, ids, concurrency), nil
}

// SweepProjects runs cycles with at most concurrency in flight. A failing project is
// recorded in the report and never stops the others.
func (e *Engine) SweepProjects(ctx context.Context, projectIds []int, concurrency int) *SweepReport {
	started := time.Now()
	report := &SweepReport{Projects: len(projectIds), Failures: make(map[int]string)}
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, id := range projectIds {
		g.Go(func() error {
			var (
				res *DetectionResult
				err error
			)
			if err = ctx.Err(); err == nil {
				res, err = e.DetectProject(ctx, id)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Failures[id] = err.Error()
				return nil
			}
			report.Succeeded++
			report.Candidates += len(res.Candidates)
			report.Created += res.Created
			report.Updated += res.Updated
			report.Resolved += res.Resolved
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	e.logger.WithFields(logrus.Fields{
		"module":     "riskengine",
		"funcName":   "SweepProjects",
		"projects":   report.Projects,
		"failed":     report.Failed,
		"candidates": report.Candidates,
	}).Info("risk sweep finished")
	return report
}
