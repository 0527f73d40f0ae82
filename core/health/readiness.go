package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/docrelay/core/handler"
	"github.com/dmitrymomot/docrelay/core/logger"
	"github.com/dmitrymomot/docrelay/core/response"
)

// DefaultCheckTimeout bounds a single dependency check.
const DefaultCheckTimeout = 5 * time.Second

// Check is a named dependency probe.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// Report is the readiness response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Readiness runs every check and answers 200 with status "ready", or 503
// with the failing checks listed in the error details.
func Readiness[C handler.Context](log *slog.Logger, checks ...Check) handler.HandlerFunc[C] {
	return func(ctx C) handler.Response {
		report, failed := run(ctx, checks)
		if failed {
			for name, result := range report.Checks {
				if result != "ok" {
					log.ErrorContext(ctx, "readiness check failed",
						logger.Component(name),
						slog.String("result", result))
				}
			}
			details := make(map[string]any, len(report.Checks))
			for name, result := range report.Checks {
				details[name] = result
			}
			return response.Error(response.ErrServiceUnavailable.WithDetails(details))
		}
		return response.JSON(report)
	}
}

func run(ctx context.Context, checks []Check) (Report, bool) {
	report := Report{Status: "ready", Checks: make(map[string]string, len(checks))}

	var (
		mu     sync.Mutex
		failed bool
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, DefaultCheckTimeout)
			defer cancel()

			result := "ok"
			if err := c.Fn(cctx); err != nil {
				result = err.Error()
			}

			mu.Lock()
			report.Checks[c.Name] = result
			if result != "ok" {
				failed = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if failed {
		report.Status = "unavailable"
	}
	return report, failed
}
