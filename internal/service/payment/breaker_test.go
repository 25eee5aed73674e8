package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute, log.NewEntry(log.New()))
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	assert.ErrorIs(t, cb.Execute("op", func() error { return boom }), boom)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.ErrorIs(t, cb.Execute("op", func() error { return boom }), boom)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute("op", func() error { called = true; return nil })
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute("op", func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Second, nil)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	_ = cb.Execute("op", func() error { return boom })
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Second)
	_ = cb.Execute("op", func() error { return boom })
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, "open", cb.State().String())
}

func TestWithBreaker_WrapsGateway(t *testing.T) {
	fake := NewFakeGateway()
	fake.RetrieveErr = errors.New("timeout")
	gw := WithBreaker(fake, NewCircuitBreaker(1, time.Hour, nil))

	_, err := gw.RetrieveIntent(context.Background(), "pi_1")
	assert.EqualError(t, err, "timeout")

	_, err = gw.RetrieveIntent(context.Background(), "pi_1")
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, 1, fake.RetrieveCalls)

	assert.Same(t, Gateway(fake), WithBreaker(fake, nil))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Enabled = true
	err := cfg.Validate()
	assert.ErrorIs(t, err, domain.ErrGatewayMisconfigured)
	assert.Contains(t, err.Error(), "secret_key")
	assert.Contains(t, err.Error(), "webhook_secret")

	cfg.SecretKey = "sk"
	cfg.WebhookSecret = "wh"
	assert.NoError(t, cfg.Validate())
}
