package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/evo-world/internal/traits"
)

// Result pairs a request with its validated response or the reason there
// is none.
type Result struct {
	Request  Request
	Response *Response
	Err      error
}

// Fallback reports whether the caller must use the rule-based path.
func (r Result) Fallback() bool {
	return r.Err != nil || r.Response == nil
}

// Pool fans requests out to an adviser with bounded concurrency.
type Pool struct {
	adviser  Adviser
	registry *traits.Registry
	limit    int
	timeout  time.Duration
}

// NewPool creates a pool. limit < 1 is treated as 1.
func NewPool(a Adviser, reg *traits.Registry, limit int, timeout time.Duration) *Pool {
	if a == nil {
		a = RuleAdviser{}
	}
	return &Pool{adviser: a, registry: reg, limit: max(1, limit), timeout: timeout}
}

// Run advises every request and returns results in request order. Each call
// gets its own timeout. Failures are recorded per result and never abort the
// rest of the batch. Responses are validated before they are returned.
func (p *Pool) Run(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}
	if _, rule := p.adviser.(RuleAdviser); rule {
		for i, req := range reqs {
			results[i] = Result{Request: req, Err: ErrNoAdvice}
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(p.limit)
	for i, req := range reqs {
		if req.Timeout == 0 {
			req.Timeout = p.timeout
		}
		g.Go(func() error {
			results[i] = p.advise(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range results {
		if r.Fallback() {
			failed++
		}
	}
	if failed > 0 {
		slog.Debug("adviser fallbacks", "requests", len(reqs), "fallbacks", failed)
	}
	return results
}

func (p *Pool) advise(ctx context.Context, req Request) Result {
	if err := ctx.Err(); err != nil {
		return Result{Request: req, Err: err}
	}
	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	resp, err := p.adviser.Advise(callCtx, req)
	if err == nil {
		err = Validate(resp, req, p.registry)
	}
	if err != nil {
		if !errors.Is(err, ErrNoAdvice) {
			slog.Warn("adviser rejected", "role", req.Role, "code", req.Code, "error", err)
		}
		return Result{Request: req, Err: err}
	}
	return Result{Request: req, Response: resp}
}
