// Package network tracks reachability of the agent's peers and of the
// internet at large, caching results so the probes stay cheap.
package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/fieldsense/soil-agent/internal/clients"
	"github.com/fieldsense/soil-agent/internal/models"
)

// Reachability targets tracked by the checker.
const (
	TargetInternet = "internet"
	TargetRegistry = "registry"
	TargetGateway  = "gateway"
)

// probeTimeout bounds the quick internet probes, which are best-effort and
// should never hold a cadence hostage.
const probeTimeout = 3 * time.Second

// Checker probes the registry, the gateway and a set of internet test URLs,
// caching per-target reachability between sweeps.
type Checker struct {
	testURLs    []string
	registry    clients.RegistryAPI
	gateway     clients.GatewayAPI
	probeClient *http.Client
	minInterval time.Duration
	logger      zerolog.Logger

	status cmap.ConcurrentMap[string, bool]

	mu        sync.Mutex
	lastCheck time.Time
}

// NewChecker initializes a Checker.
func NewChecker(testURLs []string, registry clients.RegistryAPI, gateway clients.GatewayAPI, minInterval time.Duration, logger zerolog.Logger) *Checker {
	return &Checker{
		testURLs: testURLs,
		registry: registry,
		gateway:  gateway,
		probeClient: &http.Client{
			Timeout: probeTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		minInterval: minInterval,
		logger:      logger,
		status:      cmap.New[bool](),
	}
}

// CheckAll sweeps every target. Unless forced, sweeps closer together than
// the minimum interval return the cached snapshot.
func (c *Checker) CheckAll(ctx context.Context, force bool) models.ConnectivityStatus {
	c.mu.Lock()
	if !force && time.Since(c.lastCheck) < c.minInterval {
		last := c.lastCheck
		c.mu.Unlock()
		return c.snapshot(last)
	}
	c.lastCheck = time.Now()
	last := c.lastCheck
	c.mu.Unlock()

	c.status.Set(TargetInternet, c.checkInternet(ctx))
	c.status.Set(TargetRegistry, c.registry.Health(ctx) == nil)
	c.status.Set(TargetGateway, c.gateway.Health(ctx) == nil)

	snap := c.snapshot(last)
	c.logger.Info().
		Bool("internet", snap.Internet).
		Bool("registry", snap.Registry).
		Bool("gateway", snap.Gateway).
		Msg("Connectivity check completed")
	return snap
}

// checkInternet tries each test URL until one answers. Redirect statuses
// count as reachable.
func (c *Checker) checkInternet(ctx context.Context) bool {
	for _, url := range c.testURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := c.probeClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK, http.StatusMovedPermanently, http.StatusFound:
			return true
		}
	}
	return false
}

func (c *Checker) snapshot(checkedAt time.Time) models.ConnectivityStatus {
	return models.ConnectivityStatus{
		Internet:  c.target(TargetInternet),
		Registry:  c.target(TargetRegistry),
		Gateway:   c.target(TargetGateway),
		CheckedAt: checkedAt,
	}
}

func (c *Checker) target(name string) bool {
	v, ok := c.status.Get(name)
	return ok && v
}

// InternetAvailable returns the cached internet verdict.
func (c *Checker) InternetAvailable() bool { return c.target(TargetInternet) }

// RegistryReachable returns the cached registry verdict.
func (c *Checker) RegistryReachable() bool { return c.target(TargetRegistry) }

// GatewayReachable returns the cached gateway verdict.
func (c *Checker) GatewayReachable() bool { return c.target(TargetGateway) }
