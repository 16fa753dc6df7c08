package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const probeTimeout = 5 * time.Second

// ProbeStatus is the outcome of a single dependency probe.
type ProbeStatus string

const (
	ProbeUp   ProbeStatus = "up"
	ProbeDown ProbeStatus = "down"
)

// ProbeResult describes one dependency.
type ProbeResult struct {
	Status    ProbeStatus    `json:"status"`
	LatencyMS int64          `json:"latency_ms"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ReadinessReport is returned by /health and /ready.
type ReadinessReport struct {
	Ready     bool                    `json:"ready"`
	UptimeSec int64                   `json:"uptime_seconds"`
	Probes    map[string]*ProbeResult `json:"probes"`
}

// DatabaseHealthChecker defines the interface for database health checking.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// StoragePinger checks that the artifact store is reachable.
type StoragePinger interface {
	Ping(ctx context.Context) error
}

type probe struct {
	name  string
	run   func(ctx context.Context) error
	stats func() map[string]any
}

// HealthHandler serves liveness and readiness endpoints.
type HealthHandler struct {
	probes    []probe
	startedAt time.Time
	logger    zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. A nil storage means
// artifacts live in memory and is reported as up.
func NewHealthHandler(db DatabaseHealthChecker, storage StoragePinger, logger zerolog.Logger) *HealthHandler {
	h := &HealthHandler{
		startedAt: time.Now(),
		logger:    logger.With().Str("component", "health_handler").Logger(),
	}

	dbProbe := probe{name: "database", run: func(context.Context) error { return errNotConfigured }}
	if db != nil {
		dbProbe.run = db.Ping
		dbProbe.stats = db.Health
	}
	h.probes = append(h.probes, dbProbe)

	storageProbe := probe{
		name:  "storage",
		run:   func(context.Context) error { return nil },
		stats: func() map[string]any { return map[string]any{"backend": "memory"} },
	}
	if storage != nil {
		storageProbe = probe{name: "storage", run: storage.Ping}
	}
	h.probes = append(h.probes, storageProbe)
	return h
}

type probeError string

func (e probeError) Error() string { return string(e) }

const errNotConfigured = probeError("not configured")

// RegisterPublicRoutes registers health routes that don't require authentication.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/live", h.Live)
	r.GET("/ready", h.Ready)
	r.GET("/health", h.Ready)
	r.GET("/health/db", h.Database)
}

// Live reports that the process is serving. It touches no dependencies.
// GET /live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready probes every dependency concurrently.
// GET /ready, GET /health
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	report := &ReadinessReport{
		Ready:     true,
		UptimeSec: int64(time.Since(h.startedAt).Seconds()),
		Probes:    make(map[string]*ProbeResult, len(h.probes)),
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, p := range h.probes {
		g.Go(func() error {
			res := h.runProbe(ctx, p)
			mu.Lock()
			report.Probes[p.name] = res
			if res.Status == ProbeDown {
				report.Ready = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Database probes only the database and includes pool stats.
// GET /health/db
func (h *HealthHandler) Database(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	res := h.runProbe(ctx, h.probes[0])
	status := http.StatusOK
	if res.Status == ProbeDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, res)
}

func (h *HealthHandler) runProbe(ctx context.Context, p probe) *ProbeResult {
	start := time.Now()
	err := p.run(ctx)
	res := &ProbeResult{Status: ProbeUp, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = ProbeDown
		res.Error = p.name + " unreachable"
		if errors.Is(err, errNotConfigured) {
			res.Error = p.name + " not configured"
		}
		h.logger.Warn().Err(err).Str("probe", p.name).Msg("health probe failed")
		return res
	}
	if p.stats != nil {
		res.Details = p.stats()
	}
	return res
}
