// Package bcverify verifies every method of a program file.
package bcverify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/715d/bcverify/pkg/hierarchy"
	"github.com/715d/bcverify/pkg/jvmtype"
	"github.com/715d/bcverify/pkg/program"
	"github.com/715d/bcverify/pkg/suppress"
	"github.com/715d/bcverify/pkg/typeflow"
	"github.com/715d/bcverify/pkg/verifier"
)

// Options holds configuration options for the checker.
type Options struct {
	// Strict rejects operands whose subtype relation cannot be proven.
	Strict bool
	// CollectAll records type tables at every instruction instead of only at
	// basic block starts.
	CollectAll bool
}

// Result is the outcome of verifying one method.
type Result struct {
	Method string
	// Err is the verification failure, or nil when the method verifies.
	Err *typeflow.Failure
	// Suppressed is set when Err falls on an instruction carrying a
	// suppression directive.
	Suppressed     bool
	SuppressReason string

	Stacks    [][]jvmtype.Type
	Locals    [][]jvmtype.Type
	MaxStack  int
	MaxLocals int
	Duration  time.Duration
}

// Failed reports whether the result should be reported as a failure.
func (r *Result) Failed() bool {
	return r.Err != nil && !r.Suppressed
}

// Stats summarizes a batch of results.
type Stats struct {
	Methods    int `json:"methods"`
	Failed     int `json:"failed"`
	Suppressed int `json:"suppressed"`
}

// Summarize counts results.
func Summarize(results []Result) Stats {
	s := Stats{Methods: len(results)}
	for i := range results {
		switch {
		case results[i].Failed():
			s.Failed++
		case results[i].Suppressed:
			s.Suppressed++
		}
	}
	return s
}

// Checker verifies program files.
type Checker struct {
	opts Options
}

// NewChecker creates a new checker with the given options.
func NewChecker(opts Options) *Checker {
	return &Checker{opts: opts}
}

// Check verifies every method of f concurrently. Results are in method
// order. Verification failures are reported in the results; the returned
// error is reserved for malformed input and cancellation.
func (c *Checker) Check(ctx context.Context, f *program.File) ([]Result, error) {
	if f == nil {
		return nil, fmt.Errorf("no program provided")
	}
	start := time.Now()

	store, err := f.Hierarchy()
	if err != nil {
		return nil, err
	}
	// The store is only read from here on, so verifiers can share it.
	h := hierarchy.NewCache(store)

	// Each goroutine writes to its own index.
	results := make([]Result, len(f.Methods))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())
	for idx := range f.Methods {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := c.checkMethod(&f.Methods[idx], h)
			if err != nil {
				return err
			}
			results[idx] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := Summarize(results)
	slog.Info("verified program",
		"file", f.Path,
		"methods", stats.Methods,
		"failed", stats.Failed,
		"suppressed", stats.Suppressed,
		"dur", time.Since(start))
	return results, nil
}

func (c *Checker) checkMethod(m *program.Method, h hierarchy.Provider) (*Result, error) {
	start := time.Now()
	tm, code, err := m.Compile()
	if err != nil {
		return nil, err
	}
	v, err := verifier.New(tm, h, verifier.Options{Strict: c.opts.Strict})
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", m.ID(), err)
	}

	if c.opts.CollectAll {
		err = v.VerifyCollectAll()
	} else {
		err = v.Verify()
	}

	r := &Result{
		Method:    m.ID(),
		Stacks:    v.StackTypes(),
		Locals:    v.LocalTypes(),
		MaxStack:  v.MaxStack(),
		MaxLocals: v.MaxLocals(),
	}
	if err != nil {
		var failure *typeflow.Failure
		if !errors.As(err, &failure) {
			return nil, fmt.Errorf("method %s: %w", m.ID(), err)
		}
		r.Err = failure

		sc := suppress.NewChecker()
		if err := sc.Load(m.Lines(), code.Lines); err != nil {
			return nil, fmt.Errorf("method %s: load suppressions: %w", m.ID(), err)
		}
		r.Suppressed, r.SuppressReason = sc.IsSuppressed(failure.Offset)
	}
	r.Duration = time.Since(start)

	slog.Debug("verified method", "method", r.Method, "ok", r.Err == nil, "dur", r.Duration)
	return r, nil
}
