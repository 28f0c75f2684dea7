package fallback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesis-ai/noesis/internal/testutil"
)

func TestActivateDeactivate(t *testing.T) {
	s := New(testutil.TestLogger())

	assert.False(t, s.Active("llm"))
	s.Activate("llm")
	assert.True(t, s.Active("llm"))
	s.Deactivate("llm")
	assert.False(t, s.Active("llm"))
}

func TestConcurrentAccess(t *testing.T) {
	s := New(testutil.TestLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Activate("llm")
			s.Active("llm")
			s.Deactivate("llm")
		}()
	}
	wg.Wait()
}

func TestProbeServiceRecoversOnSuccess(t *testing.T) {
	s := New(testutil.TestLogger())
	s.Activate("llm")

	called := make(chan struct{}, 1)
	s.RegisterProber("llm", func(ctx context.Context) error {
		called <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.probeOnce(ctx)

	select {
	case <-called:
	default:
		t.Fatal("prober was not invoked")
	}
	assert.False(t, s.Active("llm"))
}

func TestProbeServiceStaysActiveOnFailure(t *testing.T) {
	s := New(testutil.TestLogger())
	s.Activate("db")
	s.RegisterProber("db", func(ctx context.Context) error {
		return errors.New("still down")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.probeOnce(ctx)

	assert.True(t, s.Active("db"))
}

func TestProbeServiceRecoversFromPanic(t *testing.T) {
	s := New(testutil.TestLogger())
	s.Activate("llm")
	s.RegisterProber("llm", func(ctx context.Context) error {
		panic("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NotPanics(t, func() {
		s.probeOnce(ctx)
	})
	assert.True(t, s.Active("llm"))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := New(testutil.TestLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
