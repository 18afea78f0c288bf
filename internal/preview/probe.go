package preview

import (
	"context"
	"sync"

	"github.com/conneroisu/playpen/internal/sandbox"
)

// ProbeReport is the console output of a probe run for one frame version.
type ProbeReport struct {
	Version uint64          `json:"version"`
	Result  *sandbox.Result `json:"result"`
}

// Prober runs script buffers through the goja isolate off the caller's
// goroutine. Starting a probe cancels the previous one, so a runaway script
// is interrupted as soon as the author edits again, and never later than
// the runtime timeout.
type Prober struct {
	runtime *sandbox.Runtime

	mu     sync.Mutex
	cancel context.CancelFunc
	latest uint64
	wg     sync.WaitGroup
}

// NewProber creates a prober backed by runtime.
func NewProber(runtime *sandbox.Runtime) *Prober {
	return &Prober{runtime: runtime}
}

// Probe runs script for version and calls report when it finishes, unless
// a newer probe has started in the meantime.
func (p *Prober) Probe(ctx context.Context, version uint64, script string, report func(ProbeReport)) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.latest = version
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		result, _ := p.runtime.Run(runCtx, script)
		if result == nil {
			return
		}

		p.mu.Lock()
		current := p.latest == version
		p.mu.Unlock()
		if current && ctx.Err() == nil {
			report(ProbeReport{Version: version, Result: result})
		}
	}()
}

// Stop cancels the running probe and waits for it to return.
func (p *Prober) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.latest = 0
	p.mu.Unlock()
	p.wg.Wait()
}
