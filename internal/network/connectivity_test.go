package network_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/fieldsense/soil-agent/internal/models"
	"github.com/fieldsense/soil-agent/internal/network"
)

type stubPeer struct {
	healthy bool
	calls   atomic.Int32
}

func (p *stubPeer) Health(context.Context) error {
	p.calls.Add(1)
	if p.healthy {
		return nil
	}
	return errors.New("peer unreachable")
}

func (p *stubPeer) Register(context.Context, models.RegistrationPayload) (*models.RegistrationResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *stubPeer) Assignment(context.Context, string) (*models.AssignmentResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *stubPeer) SendReading(context.Context, models.Reading) error {
	return errors.New("not implemented")
}

func TestChecker_CheckAll_ReportsEachTarget(t *testing.T) {
	internet := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer internet.Close()

	registry := &stubPeer{healthy: true}
	gateway := &stubPeer{healthy: false}

	checker := network.NewChecker([]string{internet.URL}, registry, gateway, 0, zerolog.Nop())
	status := checker.CheckAll(context.Background(), false)

	assert.True(t, status.Internet)
	assert.True(t, status.Registry)
	assert.False(t, status.Gateway)
	assert.False(t, status.CheckedAt.IsZero())

	assert.True(t, checker.InternetAvailable())
	assert.True(t, checker.RegistryReachable())
	assert.False(t, checker.GatewayReachable())
}

func TestChecker_CheckAll_RedirectCountsAsReachable(t *testing.T) {
	internet := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://elsewhere.invalid/", http.StatusMovedPermanently)
	}))
	defer internet.Close()

	checker := network.NewChecker([]string{internet.URL}, &stubPeer{}, &stubPeer{}, 0, zerolog.Nop())
	status := checker.CheckAll(context.Background(), false)

	assert.True(t, status.Internet, "a captive-portal style redirect still proves connectivity")
}

func TestChecker_CheckAll_FallsThroughDeadTestURLs(t *testing.T) {
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer alive.Close()
	dead := httptest.NewServer(nil)
	dead.Close()

	checker := network.NewChecker([]string{dead.URL, alive.URL}, &stubPeer{}, &stubPeer{}, 0, zerolog.Nop())
	status := checker.CheckAll(context.Background(), false)

	assert.True(t, status.Internet)
}

func TestChecker_CheckAll_CachesWithinMinInterval(t *testing.T) {
	registry := &stubPeer{healthy: true}
	gateway := &stubPeer{healthy: true}

	checker := network.NewChecker(nil, registry, gateway, time.Hour, zerolog.Nop())

	checker.CheckAll(context.Background(), false)
	checker.CheckAll(context.Background(), false)
	assert.Equal(t, int32(1), registry.calls.Load(), "second sweep within the interval must use the cache")

	checker.CheckAll(context.Background(), true)
	assert.Equal(t, int32(2), registry.calls.Load(), "forced sweep must probe again")
	assert.Equal(t, int32(2), gateway.calls.Load())
}
