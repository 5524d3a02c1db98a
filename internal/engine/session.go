// ABOUTME: Last-request-wins tracking for interactive formula previews.
// ABOUTME: Generations discard stale results; Debouncer delays runs until input settles.
package engine

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounce is how long input must settle before a preview runs.
const DefaultDebounce = 500 * time.Millisecond

// PreviewSession orders concurrent previews of one editing session. Each
// request gets a generation; a result is applied only if no newer generation
// has been applied already.
type PreviewSession struct {
	svc *Service

	mu      sync.Mutex
	issued  uint64
	applied uint64
	latest  *PreviewResult
}

// NewPreviewSession creates a session bound to svc.
func NewPreviewSession(svc *Service) *PreviewSession {
	return &PreviewSession{svc: svc}
}

// Next issues a new generation.
func (p *PreviewSession) Next() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued++
	return p.issued
}

// Apply records result for gen and calls fn under the session lock. It
// reports false, without calling fn, when gen is stale.
func (p *PreviewSession) Apply(gen uint64, result PreviewResult, fn func(PreviewResult)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen <= p.applied {
		return false
	}
	p.applied = gen
	r := result
	p.latest = &r
	if fn != nil {
		fn(result)
	}
	return true
}

// Run previews req under a fresh generation and applies the result unless a
// newer one has landed in the meantime. Errors are delivered to fn with a
// zero result and follow the same ordering.
func (p *PreviewSession) Run(ctx context.Context, req PreviewRequest, fn func(PreviewResult, error)) bool {
	gen := p.Next()
	result, err := p.svc.Preview(ctx, req)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen <= p.applied {
		return false
	}
	p.applied = gen
	if err == nil {
		r := result
		p.latest = &r
	}
	if fn != nil {
		fn(result, err)
	}
	return true
}

// Latest returns the most recently applied result, if any.
func (p *PreviewSession) Latest() (PreviewResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return PreviewResult{}, false
	}
	return *p.latest, true
}

// Debouncer runs the most recently triggered function once no trigger has
// arrived for the delay.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	running sync.WaitGroup
}

// NewDebouncer creates a debouncer; a non-positive delay uses DefaultDebounce.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay}
}

// Trigger schedules fn, cancelling any pending run.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.running.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.running.Done()
		fn()
	})
}

// Stop cancels a pending run and waits for one that has already started.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.cancelLocked()
	d.timer = nil
	d.mu.Unlock()
	d.running.Wait()
}

// cancelLocked stops the pending timer; a timer that already fired keeps its
// slot in running until its function returns.
func (d *Debouncer) cancelLocked() {
	if d.timer != nil && d.timer.Stop() {
		d.running.Done()
	}
}
