package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }
func succeeding() error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3, CoolOff: time.Hour})

	for i := 0; i < 3; i++ {
		if err := b.Do(failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}

	// Fourth call is rejected without running fn.
	ran := false
	err := b.Do(func() error { ran = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
	if ran {
		t.Error("fn ran while breaker was open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 3, CoolOff: time.Hour})

	// Two failures, one success, two failures: never reaches three in a row.
	for _, fn := range []func() error{failing, failing, succeeding, failing, failing} {
		b.Do(fn)
	}

	if err := b.Do(succeeding); errors.Is(err, ErrBreakerOpen) {
		t.Error("breaker opened without three consecutive failures")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Run("successful probe closes the breaker", func(t *testing.T) {
		b := NewBreaker(BreakerConfig{MaxFailures: 1, CoolOff: time.Millisecond})
		b.Do(failing)

		time.Sleep(5 * time.Millisecond)

		if err := b.Do(succeeding); err != nil {
			t.Fatalf("probe call: %v", err)
		}
		// Closed again: calls flow freely.
		if err := b.Do(succeeding); err != nil {
			t.Errorf("post-probe call: %v", err)
		}
	})

	t.Run("failed probe re-opens the breaker", func(t *testing.T) {
		b := NewBreaker(BreakerConfig{MaxFailures: 1, CoolOff: time.Millisecond})
		b.Do(failing)

		time.Sleep(5 * time.Millisecond)

		if err := b.Do(failing); !errors.Is(err, errBoom) {
			t.Fatalf("probe call: %v", err)
		}
		if err := b.Do(succeeding); !errors.Is(err, ErrBreakerOpen) {
			t.Errorf("err = %v, want ErrBreakerOpen after failed probe", err)
		}
	})
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1, CoolOff: time.Hour})
	b.Do(failing)

	if err := b.Do(succeeding); !errors.Is(err, ErrBreakerOpen) {
		t.Fatal("breaker should be open")
	}

	b.Reset()
	if err := b.Do(succeeding); err != nil {
		t.Errorf("call after Reset: %v", err)
	}
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	if b.maxFailures != 3 {
		t.Errorf("maxFailures = %d, want 3", b.maxFailures)
	}
	if b.coolOff != 20*time.Second {
		t.Errorf("coolOff = %v, want 20s", b.coolOff)
	}
}
