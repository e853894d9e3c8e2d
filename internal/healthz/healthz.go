// Package healthz runs named readiness checks for the directories a scanner
// depends on and serves the aggregate over HTTP.
package healthz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the outcome of one checker run.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Result is the aggregate over all registered checks.
type Result struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}

type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	NameVal string
	CheckFn func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.NameVal }
func (c CheckerFunc) Check(ctx context.Context) error { return c.CheckFn(ctx) }

type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]Checker
	timeout time.Duration
}

func New() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]Checker),
		timeout: 5 * time.Second,
	}
}

// Register adds checker, replacing any previous checker with the same name.
func (h *HealthChecker) Register(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[checker.Name()] = checker
}

// RunChecks runs every registered check. The result is unhealthy if any
// check fails. Checks are reported in name order.
func (h *HealthChecker) RunChecks(ctx context.Context) Result {
	h.mu.RLock()
	checks := make([]Checker, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	h.mu.RUnlock()
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name() < checks[j].Name() })

	result := Result{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make([]Check, 0, len(checks)),
	}
	for _, checker := range checks {
		check := h.runCheck(ctx, checker)
		if check.Status == StatusUnhealthy {
			result.Status = StatusUnhealthy
		}
		result.Checks = append(result.Checks, check)
	}
	return result
}

func (h *HealthChecker) runCheck(ctx context.Context, checker Checker) Check {
	start := time.Now()
	check := Check{Name: checker.Name(), LastChecked: start}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := checker.Check(checkCtx)
	check.Duration = time.Since(start)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	} else {
		check.Status = StatusHealthy
	}
	return check
}

// HTTPHandler answers 200 when healthy and 503 otherwise, with the JSON
// result as body. Authentication is left to the caller's mux.
func (h *HealthChecker) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := h.RunChecks(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if result.Status == StatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(result)
	})
}

// DirReadable fails unless dir exists and, when it is a directory, can be
// listed.
func DirReadable(name, dir string) Checker {
	return CheckerFunc{
		NameVal: name,
		CheckFn: func(ctx context.Context) error {
			fi, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				// Single files are valid inputs too.
				return nil
			}
			f, err := os.Open(dir)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = f.Readdirnames(1)
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("list %s: %w", dir, err)
			}
			return nil
		},
	}
}

// DirWritable fails unless a file can be created in dir.
func DirWritable(name, dir string) Checker {
	return CheckerFunc{
		NameVal: name,
		CheckFn: func(ctx context.Context) error {
			f, err := os.CreateTemp(dir, ".unq-health-*")
			if err != nil {
				return fmt.Errorf("%s not writable: %w", dir, err)
			}
			path := f.Name()
			f.Close()
			return os.Remove(path)
		},
	}
}
