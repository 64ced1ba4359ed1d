package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrNoResults is returned by Deliver when there is nothing to report.
var ErrNoResults = errors.New("no results to report")

// Pipeline renders a report once and fans it out to every sink.
type Pipeline struct {
	renderers []Renderer
	sinks     []Sink
	logger    *slog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(renderers []Renderer, sinks []Sink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{renderers: renderers, sinks: sinks, logger: logger}
}

// Sinks returns the names of the configured sinks.
func (p *Pipeline) Sinks() []string {
	names := make([]string, len(p.sinks))
	for i, s := range p.sinks {
		names[i] = s.Name()
	}
	return names
}

// Render produces one document per renderer, in renderer order. Renderers
// run concurrently; the first failure is returned.
func (p *Pipeline) Render(r *Report) ([]Document, error) {
	docs := make([]Document, len(p.renderers))
	var g errgroup.Group
	for i, rd := range p.renderers {
		g.Go(func() error {
			d, err := rd.Render(r)
			if err != nil {
				return fmt.Errorf("render %s: %w", rd.Format(), err)
			}
			docs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Deliver renders r and sends it to all sinks concurrently. A failing sink
// does not stop the others; all sink errors are joined into the result.
func (p *Pipeline) Deliver(ctx context.Context, r *Report) error {
	if r.TotalChecked() == 0 {
		p.logger.Error("no results collected, report not delivered", "run_id", r.RunID)
		return ErrNoResults
	}

	docs, err := p.Render(r)
	if err != nil {
		return err
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range p.sinks {
		wg.Go(func() {
			if err := s.Send(ctx, r, docs); err != nil {
				p.logger.Error("report delivery failed", "run_id", r.RunID, "sink", s.Name(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
				return
			}
			p.logger.Info("report delivered", "run_id", r.RunID, "sink", s.Name(), "documents", len(docs))
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}
