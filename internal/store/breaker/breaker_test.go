package breaker

import (
	"errors"
	"testing"
	"time"
)

var errFail = errors.New("fail")

// fakeClock lets tests move time without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New(maxFailures, reset)
	b.now = clk.now
	return b, clk
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", b.CurrentState())
	}
	if !b.Ready() {
		t.Error("closed breaker should be ready")
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after 3 failures, got %v", b.CurrentState())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if err != ErrOpen || called {
		t.Errorf("expected ErrOpen without calling fn, got %v called=%v", err, called)
	}
	if b.Ready() {
		t.Error("open breaker should not be ready")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errFail })
	}

	clk.advance(time.Second)
	if !b.Ready() {
		t.Fatal("breaker should allow a probe after the reset timeout")
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed after successful probe, got %v", b.CurrentState())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errFail })
	}

	clk.advance(2 * time.Second)
	_ = b.Execute(func() error { return errFail })

	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after failed probe, got %v", b.CurrentState())
	}
	if err := b.Execute(func() error { return nil }); err != ErrOpen {
		t.Errorf("expected ErrOpen right after reopening, got %v", err)
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second)
	_ = b.Execute(func() error { return errFail })
	clk.advance(time.Second)

	inner := error(nil)
	_ = b.Execute(func() error {
		inner = b.Execute(func() error { return nil })
		return nil
	})
	if inner != ErrOpen {
		t.Errorf("second concurrent probe should be rejected, got %v", inner)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	_ = b.Execute(func() error { return errFail })
	_ = b.Execute(func() error { return errFail })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errFail })
	_ = b.Execute(func() error { return errFail })

	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed (counter should have reset), got %v", b.CurrentState())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []State
	b, clk := newTestBreaker(1, time.Second)
	b.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	_ = b.Execute(func() error { return errFail })
	clk.advance(time.Second)
	_ = b.Execute(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("at %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
}
