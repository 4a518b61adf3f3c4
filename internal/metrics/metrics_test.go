package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("nexaas-test", reg)
	require.NotNil(t, m)

	m.JobsEnqueuedTotal.WithLabelValues("script", "engine").Inc()
	m.QueueDepth.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewWithNilRegistryDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWithRegistry("nexaas-test", nil)
	})
}

func TestGlobalIsLazilyInitialized(t *testing.T) {
	assert.NotNil(t, Global())
}

func TestInitReturnsSameInstance(t *testing.T) {
	a := Init("nexaas-test-init")
	b := Init("nexaas-test-init")
	assert.Same(t, a, b)
}
