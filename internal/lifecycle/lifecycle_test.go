package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Systemsaholic/nexaas/internal/logging"
)

type recordingModule struct {
	name      string
	startErr  error
	stopErr   error
	startedAt int
	stoppedAt int
}

func (m *recordingModule) Name() string { return m.name }
func (m *recordingModule) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	return nil
}
func (m *recordingModule) Stop(ctx context.Context) error {
	if m.stopErr != nil {
		return m.stopErr
	}
	return nil
}

func TestLifecycleStartsInRegistrationOrder(t *testing.T) {
	var order []string
	a := &orderedModule{name: "workers", order: &order}
	b := &orderedModule{name: "engine", order: &order}
	c := &orderedModule{name: "monitor", order: &order}

	lc := New(logging.New("test", "error", "text"))
	lc.Register(a)
	lc.Register(b)
	lc.Register(c)

	require.NoError(t, lc.Start(context.Background()))
	require.Equal(t, []string{"start:workers", "start:engine", "start:monitor"}, order)
}

func TestLifecycleStopsInReverseOrder(t *testing.T) {
	var order []string
	a := &orderedModule{name: "workers", order: &order}
	b := &orderedModule{name: "engine", order: &order}
	c := &orderedModule{name: "monitor", order: &order}

	lc := New(logging.New("test", "error", "text"))
	lc.Register(a)
	lc.Register(b)
	lc.Register(c)

	require.NoError(t, lc.Start(context.Background()))
	order = nil
	require.NoError(t, lc.Stop(context.Background()))
	require.Equal(t, []string{"stop:monitor", "stop:engine", "stop:workers"}, order)
}

func TestLifecycleStartStopsAtFirstError(t *testing.T) {
	a := &recordingModule{name: "a"}
	b := &recordingModule{name: "b", startErr: errors.New("boom")}
	c := &recordingModule{name: "c"}

	lc := New(logging.New("test", "error", "text"))
	lc.Register(a)
	lc.Register(b)
	lc.Register(c)

	err := lc.Start(context.Background())
	require.Error(t, err)
}

func TestLifecycleStopContinuesPastErrors(t *testing.T) {
	a := &recordingModule{name: "a"}
	b := &recordingModule{name: "b", stopErr: errors.New("boom")}
	c := &recordingModule{name: "c"}

	lc := New(logging.New("test", "error", "text"))
	lc.Register(a)
	lc.Register(b)
	lc.Register(c)

	require.NoError(t, lc.Start(context.Background()))
	err := lc.Stop(context.Background())
	require.Error(t, err)

	health := lc.Health().Snapshot()
	require.False(t, health["a"].Stopped.IsZero())
	require.False(t, health["c"].Stopped.IsZero())
}

type orderedModule struct {
	name  string
	order *[]string
}

func (m *orderedModule) Name() string { return m.name }
func (m *orderedModule) Start(ctx context.Context) error {
	*m.order = append(*m.order, "start:"+m.name)
	return nil
}
func (m *orderedModule) Stop(ctx context.Context) error {
	*m.order = append(*m.order, "stop:"+m.name)
	return nil
}
