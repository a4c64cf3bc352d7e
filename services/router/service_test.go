package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services"
	"go.uber.org/zap"
)

// stubProvider fails until failuresLeft reaches zero, then succeeds.
type stubProvider struct {
	name         string
	failuresLeft int32
	calls        int32
	output       string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Invoke(_ context.Context, _ Payload) (string, error) {
	atomic.AddInt32(&p.calls, 1)
	if atomic.AddInt32(&p.failuresLeft, -1) >= 0 {
		return "", errors.New(p.name + " upstream error")
	}
	return p.output, nil
}

func newTestService(clock Clock) *Service {
	return NewService(Config{FailureThreshold: 3, Cooldown: 30 * time.Second}, clock, zap.NewNop())
}

func TestInvoke_PrimaryServes(t *testing.T) {
	svc := newTestService(newFakeClock())
	primary := &stubProvider{name: "primary", output: "hello"}
	svc.Register(primary)
	svc.Register(&stubProvider{name: "secondary", output: "fallback"})
	svc.SetDefaultChain(models.CapabilityChat, []string{"primary", "secondary"})

	res, err := svc.Invoke(context.Background(), "acme", models.CapabilityChat, Payload{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output)
	assert.Equal(t, "primary", res.Provider)
	assert.Equal(t, 0, res.DegradationStage)
	assert.Equal(t, []string{"primary"}, res.ChainUsed)
}

func TestInvoke_FallsBackOnFailure(t *testing.T) {
	svc := newTestService(newFakeClock())
	svc.Register(&stubProvider{name: "primary", failuresLeft: 1})
	svc.Register(&stubProvider{name: "secondary", output: "fallback"})
	svc.SetDefaultChain(models.CapabilityChat, []string{"primary", "secondary"})

	res, err := svc.Invoke(context.Background(), "acme", models.CapabilityChat, Payload{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Output)
	assert.Equal(t, 1, res.DegradationStage)
	assert.Equal(t, []string{"primary", "secondary"}, res.ChainUsed)
}

func TestInvoke_OpenCircuitSkipsPrimary(t *testing.T) {
	svc := newTestService(newFakeClock())
	primary := &stubProvider{name: "primary", failuresLeft: 100}
	svc.Register(primary)
	svc.Register(&stubProvider{name: "secondary", output: "fallback"})
	svc.SetDefaultChain(models.CapabilityChat, []string{"primary", "secondary"})

	// Three requests each fail on primary and fall back; the third failure
	// opens the primary circuit.
	for i := 0; i < 3; i++ {
		res, err := svc.Invoke(context.Background(), "acme", models.CapabilityChat, Payload{Prompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.DegradationStage)
	}
	state, ok := svc.BreakerState("primary")
	require.True(t, ok)
	assert.Equal(t, CircuitOpen, state)

	// The next request must not touch primary at all.
	callsBefore := atomic.LoadInt32(&primary.calls)
	res, err := svc.Invoke(context.Background(), "acme", models.CapabilityChat, Payload{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DegradationStage)
	assert.Equal(t, "secondary", res.Provider)
	assert.Equal(t, callsBefore, atomic.LoadInt32(&primary.calls))
}

func TestInvoke_HalfOpenProbeRecovers(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock)
	primary := &stubProvider{name: "primary", failuresLeft: 3, output: "recovered"}
	svc.Register(primary)
	svc.Register(&stubProvider{name: "secondary", output: "fallback"})
	svc.SetDefaultChain(models.CapabilityChat, []string{"primary", "secondary"})

	for i := 0; i < 3; i++ {
		_, err := svc.Invoke(context.Background(), "acme", models.CapabilityChat, Payload{Prompt: "hi"})
		require.NoError(t, err)
	}
	state, _ := svc.BreakerState("primary")
	require.Equal(t, CircuitOpen, state)

	clock.Advance(30 * time.Second)

	res, err := svc.Invoke(context.Background(), "acme", models.CapabilityChat, Payload{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Output)
	assert.Equal(t, 0, res.DegradationStage)

	state, _ = svc.BreakerState("primary")
	assert.Equal(t, CircuitClosed, state)
}

func TestInvoke_ChainExhausted(t *testing.T) {
	svc := newTestService(newFakeClock())
	svc.Register(&stubProvider{name: "primary", failuresLeft: 100})
	svc.Register(&stubProvider{name: "secondary", failuresLeft: 100})
	svc.SetDefaultChain(models.CapabilityChat, []string{"primary", "secondary"})

	_, err := svc.Invoke(context.Background(), "acme", models.CapabilityChat, Payload{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, services.IsProviderUnavailableError(err))
	details := services.GetErrorDetails(err)
	assert.Equal(t, []string{"primary", "secondary"}, details["attempted_chain"])
}

func TestInvoke_NoChainConfigured(t *testing.T) {
	svc := newTestService(newFakeClock())

	_, err := svc.Invoke(context.Background(), "acme", models.CapabilityChat, Payload{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, services.IsProviderUnavailableError(err))
}

func TestInvoke_PolicyChainOverride(t *testing.T) {
	svc := newTestService(newFakeClock())
	svc.Register(&stubProvider{name: "primary", output: "default"})
	svc.Register(&stubProvider{name: "eu-only", output: "regional"})
	svc.SetDefaultChain(models.CapabilityChat, []string{"primary"})

	res, err := svc.Invoke(context.Background(), "acme", models.CapabilityChat,
		Payload{Prompt: "hi", Chain: []string{"eu-only"}})
	require.NoError(t, err)
	assert.Equal(t, "regional", res.Output)
	assert.Equal(t, "eu-only", res.Provider)
}

func TestInvoke_TenantChainBeatsDefault(t *testing.T) {
	svc := newTestService(newFakeClock())
	svc.Register(&stubProvider{name: "primary", output: "default"})
	svc.Register(&stubProvider{name: "tenant-pinned", output: "pinned"})
	svc.SetDefaultChain(models.CapabilityChat, []string{"primary"})
	svc.SetTenantChain("acme", models.CapabilityChat, []string{"tenant-pinned"})

	res, err := svc.Invoke(context.Background(), "acme", models.CapabilityChat, Payload{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "pinned", res.Output)

	other, err := svc.Invoke(context.Background(), "globex", models.CapabilityChat, Payload{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "default", other.Output)
}

func TestInvoke_CancelledContextStopsChainWalk(t *testing.T) {
	svc := newTestService(newFakeClock())
	secondary := &stubProvider{name: "secondary", output: "fallback"}
	svc.Register(&stubProvider{name: "primary", failuresLeft: 100})
	svc.Register(secondary)
	svc.SetDefaultChain(models.CapabilityChat, []string{"primary", "secondary"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Invoke(ctx, "acme", models.CapabilityChat, Payload{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&secondary.calls))
}

func TestHTTPProvider_Invoke(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/invoke", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"output":"model says hi"}`))
		}))
		defer srv.Close()

		p := NewHTTPProvider("primary", srv.URL, 0)
		out, err := p.Invoke(context.Background(), Payload{Capability: models.CapabilityChat, Prompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "model says hi", out)
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		p := NewHTTPProvider("primary", srv.URL, 0)
		_, err := p.Invoke(context.Background(), Payload{Prompt: "hi"})
		assert.Error(t, err)
	})

	t.Run("malformed body is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		p := NewHTTPProvider("primary", srv.URL, 0)
		_, err := p.Invoke(context.Background(), Payload{Prompt: "hi"})
		assert.Error(t, err)
	})
}
