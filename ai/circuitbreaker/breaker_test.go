package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBackend = errors.New("backend failure")

func failingCall() (any, error) { return nil, errBackend }

// ---------------------------------------------------------------------------
// State.String()
// ---------------------------------------------------------------------------

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(99).String())
}

// ---------------------------------------------------------------------------
// NewManager
// ---------------------------------------------------------------------------

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(nil, nil)
	require.NotNil(t, m)
	assert.Equal(t, 5, m.cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, m.cfg.HalfOpenTime)

	m = NewManager(&Config{FailureThreshold: -1, HalfOpenTime: 0}, zap.NewNop())
	assert.Equal(t, 5, m.cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, m.cfg.HalfOpenTime)
}

// ---------------------------------------------------------------------------
// Closed -> Open (failure threshold)
// ---------------------------------------------------------------------------

func TestExecute_ClosedToOpenAtThreshold(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 5, HalfOpenTime: time.Hour}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.Execute(ctx, "local-model", 1, failingCall)
		assert.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, StateOpen, m.Status("local-model").State)

	// 6th call fails fast without invoking fn.
	var invoked atomic.Bool
	_, err := m.Execute(ctx, "local-model", 1, func() (any, error) {
		invoked.Store(true)
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked.Load())
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 3, HalfOpenTime: time.Hour}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = m.Execute(ctx, "k", 1, failingCall)
	}
	assert.Equal(t, 2, m.Status("k").ConsecutiveFailures)

	_, err := m.Execute(ctx, "k", 1, func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, 0, m.Status("k").ConsecutiveFailures)
	assert.Equal(t, StateClosed, m.Status("k").State)
}

// ---------------------------------------------------------------------------
// Open -> HalfOpen -> {Closed, Open}
// ---------------------------------------------------------------------------

func openBreaker(t *testing.T, m *Manager, key string) {
	t.Helper()
	for i := 0; i < m.cfg.FailureThreshold; i++ {
		_, _ = m.Execute(context.Background(), key, 1, failingCall)
	}
	require.Equal(t, StateOpen, m.Status(key).State)
}

func TestExecute_OpenFailsFastBeforeHalfOpenTime(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 2, HalfOpenTime: time.Hour}, zap.NewNop())
	openBreaker(t, m, "k")

	_, err := m.Execute(context.Background(), "k", 1, func() (any, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestExecute_HalfOpenTrialSucceedsClosesCircuit(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 2, HalfOpenTime: 30 * time.Millisecond}, zap.NewNop())
	openBreaker(t, m, "k")

	time.Sleep(40 * time.Millisecond)

	var calls atomic.Int32
	result, err := m.Execute(context.Background(), "k", 1, func() (any, error) {
		calls.Add(1)
		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, int32(1), calls.Load(), "trial must invoke fn exactly once")
	assert.Equal(t, StateClosed, m.Status("k").State)
	assert.Equal(t, 0, m.Status("k").ConsecutiveFailures)
}

func TestExecute_HalfOpenTrialFailsReopens(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 2, HalfOpenTime: 30 * time.Millisecond}, zap.NewNop())
	openBreaker(t, m, "k")

	time.Sleep(40 * time.Millisecond)

	_, err := m.Execute(context.Background(), "k", 1, failingCall)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, m.Status("k").State)

	// Cooldown restarted: still fail-fast right away.
	_, err = m.Execute(context.Background(), "k", 1, failingCall)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestExecute_HalfOpenTrialIgnoresRetryAttempts(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 2, HalfOpenTime: 30 * time.Millisecond}, zap.NewNop())
	openBreaker(t, m, "k")

	time.Sleep(40 * time.Millisecond)

	// The trial invokes the backend once even when the caller asked for
	// internal retries.
	var calls atomic.Int32
	_, err := m.Execute(context.Background(), "k", 3, func() (any, error) {
		calls.Add(1)
		return nil, errBackend
	})

	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, int32(1), calls.Load(), "half-open trial must not retry against a recovering backend")
	assert.Equal(t, StateOpen, m.Status("k").State)
}

func TestExecute_HalfOpenAllowsSingleTrial(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 1, HalfOpenTime: 10 * time.Millisecond}, zap.NewNop())
	openBreaker(t, m, "k")

	time.Sleep(20 * time.Millisecond)

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), "k", 1, func() (any, error) {
			close(trialStarted)
			<-release
			return "ok", nil
		})
		done <- err
	}()
	<-trialStarted

	// A second call during the in-flight trial is rejected without invoking fn.
	var invoked atomic.Bool
	_, err := m.Execute(context.Background(), "k", 1, func() (any, error) {
		invoked.Store(true)
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrTrialInFlight)
	assert.False(t, invoked.Load())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, m.Status("k").State)
}

// ---------------------------------------------------------------------------
// Internal retries count as one failure
// ---------------------------------------------------------------------------

func TestExecute_RetryBurstCountsOnce(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 5, HalfOpenTime: time.Hour}, zap.NewNop())

	var calls atomic.Int32
	_, err := m.Execute(context.Background(), "k", 3, func() (any, error) {
		calls.Add(1)
		return nil, errBackend
	})

	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, m.Status("k").ConsecutiveFailures,
		"a burst of internal retries must inflate the counter by at most one")
}

func TestExecute_RetryRecoversWithinAttempts(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 2, HalfOpenTime: time.Hour}, zap.NewNop())

	var calls atomic.Int32
	result, err := m.Execute(context.Background(), "k", 3, func() (any, error) {
		if calls.Add(1) < 3 {
			return nil, errBackend
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 0, m.Status("k").ConsecutiveFailures)
}

// ---------------------------------------------------------------------------
// Key isolation and observability
// ---------------------------------------------------------------------------

func TestExecute_KeysAreIsolated(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 2, HalfOpenTime: time.Hour}, zap.NewNop())
	openBreaker(t, m, "local-model")

	result, err := m.Execute(context.Background(), "cloud-model", 1, func() (any, error) {
		return "fine", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fine", result)
}

func TestAllStatus_DoesNotMutateState(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 2, HalfOpenTime: 10 * time.Millisecond}, zap.NewNop())
	openBreaker(t, m, "k")

	// Even after the cooldown has elapsed, reading status must not flip the
	// breaker to half-open; only Execute may transition.
	time.Sleep(20 * time.Millisecond)

	st := m.AllStatus()
	require.Contains(t, st, "k")
	assert.Equal(t, StateOpen, st["k"].State)
	assert.Equal(t, StateOpen, m.Status("k").State)
}

func TestAllStatus_ReportsCounters(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 5, HalfOpenTime: time.Hour}, zap.NewNop())

	_, _ = m.Execute(context.Background(), "a", 1, failingCall)
	_, _ = m.Execute(context.Background(), "a", 1, failingCall)
	_, _ = m.Execute(context.Background(), "b", 1, func() (any, error) { return nil, nil })

	st := m.AllStatus()
	assert.Equal(t, 2, st["a"].ConsecutiveFailures)
	assert.Equal(t, StateClosed, st["a"].State)
	assert.Equal(t, 0, st["b"].ConsecutiveFailures)
}

func TestStatus_UnknownKeyIsClosed(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	assert.Equal(t, StateClosed, m.Status("never-used").State)
}

func TestReset(t *testing.T) {
	m := NewManager(&Config{FailureThreshold: 2, HalfOpenTime: time.Hour}, zap.NewNop())
	openBreaker(t, m, "k")

	m.Reset("k")
	assert.Equal(t, StateClosed, m.Status("k").State)
	assert.Equal(t, 0, m.Status("k").ConsecutiveFailures)

	// Resetting an unknown key is a no-op.
	m.Reset("missing")
}

func TestOnStateChange_Callback(t *testing.T) {
	var mu sync.Mutex
	type transition struct{ from, to State }
	transitions := map[string][]transition{}

	m := NewManager(&Config{
		FailureThreshold: 2,
		HalfOpenTime:     time.Hour,
		OnStateChange: func(key string, from, to State) {
			mu.Lock()
			transitions[key] = append(transitions[key], transition{from, to})
			mu.Unlock()
		},
	}, zap.NewNop())

	openBreaker(t, m, "k")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions["k"]) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StateClosed, transitions["k"][0].from)
	assert.Equal(t, StateOpen, transitions["k"][0].to)
}

func TestExecuteTyped(t *testing.T) {
	m := NewManager(nil, zap.NewNop())

	n, err := ExecuteTyped(m, context.Background(), "k", 1, func() (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
