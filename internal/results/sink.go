package results

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/settings-crawler/internal/crawler"
)

// Sink receives the result of a finished run.
type Sink interface {
	Name() string
	Save(ctx context.Context, res *crawler.RunResult) error
}

// Fanout delivers a result to every configured sink concurrently. A failing
// sink does not stop the others.
type Fanout struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewFanout creates a Fanout over sinks. Nil sinks are skipped.
func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger.Named("results")}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len reports how many sinks are attached.
func (f *Fanout) Len() int { return len(f.sinks) }

// Save writes res to all sinks and returns the joined errors of those that failed.
func (f *Fanout) Save(ctx context.Context, res *crawler.RunResult) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range f.sinks {
		g.Go(func() error {
			if err := s.Save(gctx, res); err != nil {
				f.logger.Error("Failed to save run result.",
					zap.String("sink", s.Name()),
					zap.String("run_id", res.RunID),
					zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
				return nil
			}
			f.logger.Debug("Saved run result.", zap.String("sink", s.Name()))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
