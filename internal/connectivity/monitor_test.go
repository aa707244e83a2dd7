package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func newTestMonitor(t *testing.T, pinger *fakePinger) *ProbeMonitor {
	t.Helper()
	m, err := NewProbeMonitor(pinger, time.Minute, logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, err)
	return m
}

func TestMonitorStartsOnline(t *testing.T) {
	m := newTestMonitor(t, &fakePinger{})
	assert.True(t, m.Online())
}

func TestMonitorRequiresPinger(t *testing.T) {
	_, err := NewProbeMonitor(nil, time.Minute, nil)
	assert.Error(t, err)
}

func TestMonitorPublishesEdgeTransitionsOnly(t *testing.T) {
	pinger := &fakePinger{}
	m := newTestMonitor(t, pinger)
	ctx := context.Background()

	// Online while already online: no transition.
	m.probe(ctx)
	select {
	case <-m.Changes():
		t.Fatal("steady state must not publish")
	default:
	}

	pinger.err = errors.New("no route to host")
	m.probe(ctx)
	assert.False(t, m.Online())
	select {
	case online := <-m.Changes():
		assert.False(t, online)
	default:
		t.Fatal("expected an offline transition")
	}

	// Still offline: no second publish.
	m.probe(ctx)
	select {
	case <-m.Changes():
		t.Fatal("repeated offline probes must not publish")
	default:
	}

	pinger.err = nil
	m.probe(ctx)
	select {
	case online := <-m.Changes():
		assert.True(t, online)
	default:
		t.Fatal("expected an online transition")
	}
}

func TestMonitorDropsStaleTransitionForSlowConsumers(t *testing.T) {
	pinger := &fakePinger{}
	m := newTestMonitor(t, pinger)
	ctx := context.Background()

	pinger.err = errors.New("down")
	m.probe(ctx)
	pinger.err = nil
	m.probe(ctx)

	// Only the latest state survives in the buffer.
	online := <-m.Changes()
	assert.True(t, online)
	select {
	case <-m.Changes():
		t.Fatal("intermediate transition should have been dropped")
	default:
	}
}

func TestMonitorRunStopsOnContextCancel(t *testing.T) {
	m := newTestMonitor(t, &fakePinger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
