package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus is the state reported for a check or for the whole process.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const defaultCheckTimeout = 2 * time.Second

// HealthCheck verifies one dependency of the watch loop. A failing critical
// check makes the process unhealthy; any other failure only degrades it.
type HealthCheck struct {
	Name     string
	Check    func(context.Context) error
	Timeout  time.Duration
	Critical bool
}

// CheckResult is the outcome of a single HealthCheck.
type CheckResult struct {
	Name     string       `json:"name"`
	Status   HealthStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
	Duration string       `json:"duration"`
}

// HealthReport is served on /health.
type HealthReport struct {
	Status  HealthStatus  `json:"status"`
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
	Checks  []CheckResult `json:"checks"`
}

// HealthChecker runs registered checks concurrently.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	version string
	started time.Time
}

// NewHealthChecker creates a checker reporting version.
func NewHealthChecker(version string, checks ...HealthCheck) *HealthChecker {
	hc := &HealthChecker{version: version, started: time.Now()}
	for _, c := range checks {
		hc.Register(c)
	}
	return hc
}

// Register adds a check. A zero timeout uses the default.
func (hc *HealthChecker) Register(check HealthCheck) {
	if check.Timeout <= 0 {
		check.Timeout = defaultCheckTimeout
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, check)
}

// Run executes every check and folds the results into one report.
func (hc *HealthChecker) Run(ctx context.Context) HealthReport {
	hc.mu.RLock()
	checks := append([]HealthCheck(nil), hc.checks...)
	hc.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := HealthStatusHealthy
	for _, r := range results {
		switch {
		case r.Status == HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case r.Status == HealthStatusDegraded && status == HealthStatusHealthy:
			status = HealthStatusDegraded
		}
	}

	return HealthReport{
		Status:  status,
		Version: hc.version,
		Uptime:  time.Since(hc.started).Round(time.Second).String(),
		Checks:  results,
	}
}

func runCheck(ctx context.Context, c HealthCheck) CheckResult {
	cctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- c.Check(cctx) }()

	var err error
	select {
	case err = <-done:
	case <-cctx.Done():
		err = cctx.Err()
	}

	res := CheckResult{
		Name:     c.Name,
		Status:   HealthStatusHealthy,
		Duration: time.Since(start).String(),
	}
	if err != nil {
		res.Error = err.Error()
		res.Status = HealthStatusDegraded
		if c.Critical {
			res.Status = HealthStatusUnhealthy
		}
	}
	return res
}

// ServeHTTP writes the full report; unhealthy answers 503.
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := hc.Run(r.Context())
	code := http.StatusOK
	if report.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

// ReadinessHandler answers 200 only while every check passes.
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hc.Run(r.Context())
		if report.Status != HealthStatusHealthy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// LivenessHandler always answers 200 while the process serves HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WatchDirectoryCheck fails when the watched directory disappears.
func WatchDirectoryCheck(dir string) HealthCheck {
	return HealthCheck{
		Name:     "watch_directory",
		Critical: true,
		Check: func(context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			return nil
		},
	}
}

// HashesFileCheck fails when the processed-hash file can no longer be
// saved. Answers are still produced, so the failure only degrades.
func HashesFileCheck(path string) HealthCheck {
	return HealthCheck{
		Name: "hashes_file",
		Check: func(context.Context) error {
			dir := filepath.Dir(path)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("hashes directory: %w", err)
			}
			f, err := os.CreateTemp(dir, ".health-*")
			if err != nil {
				return fmt.Errorf("hashes directory not writable: %w", err)
			}
			name := f.Name()
			_ = f.Close()
			return os.Remove(name)
		},
	}
}
