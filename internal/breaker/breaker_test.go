package breaker

import (
	"errors"
	"testing"
	"time"
)

var errRemote = errors.New("remote unavailable")

func TestTripAfterThreshold(t *testing.T) {
	r := NewRegistry(Settings{Threshold: 3, Cooldown: time.Minute})

	calls := 0
	failing := func() (any, error) {
		calls++
		return nil, errRemote
	}

	for i := 0; i < 3; i++ {
		if _, err := r.Execute("reviews", failing); !errors.Is(err, errRemote) {
			t.Fatalf("call %d: err = %v, want remote error", i, err)
		}
	}
	if r.State("reviews") != "open" {
		t.Fatalf("state = %s, want open after threshold failures", r.State("reviews"))
	}

	// Next call fails fast without invoking the operation
	before := calls
	_, err := r.Execute("reviews", failing)
	if !IsOpen(err) {
		t.Fatalf("err = %v, want open-circuit error", err)
	}
	if calls != before {
		t.Errorf("operation invoked %d times while open, want 0", calls-before)
	}
}

func TestClassesAreIndependent(t *testing.T) {
	r := NewRegistry(Settings{Threshold: 2, Cooldown: time.Minute})

	failing := func() (any, error) { return nil, errRemote }
	r.Execute("reviews", failing)
	r.Execute("reviews", failing)

	if r.State("reviews") != "open" {
		t.Fatal("reviews breaker should be open")
	}
	if r.State("posts") != "closed" {
		t.Fatal("posts breaker should be unaffected")
	}

	got, err := r.Execute("posts", func() (any, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("posts call = (%v, %v), want (ok, nil)", got, err)
	}
}

func TestHalfOpenProbe(t *testing.T) {
	r := NewRegistry(Settings{Threshold: 2, Cooldown: 50 * time.Millisecond})

	failing := func() (any, error) { return nil, errRemote }
	r.Execute("insights", failing)
	r.Execute("insights", failing)
	if r.State("insights") != "open" {
		t.Fatal("breaker should be open")
	}

	// After cooldown, exactly one probe is allowed through; success closes.
	time.Sleep(80 * time.Millisecond)
	got, err := r.Execute("insights", func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatalf("probe call error: %v", err)
	}
	if got != 42 {
		t.Fatalf("probe result = %v, want 42", got)
	}
	if r.State("insights") != "closed" {
		t.Errorf("state = %s, want closed after successful probe", r.State("insights"))
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	r := NewRegistry(Settings{Threshold: 2, Cooldown: 50 * time.Millisecond})

	failing := func() (any, error) { return nil, errRemote }
	r.Execute("posts", failing)
	r.Execute("posts", failing)

	time.Sleep(80 * time.Millisecond)
	if _, err := r.Execute("posts", failing); !errors.Is(err, errRemote) {
		t.Fatalf("probe err = %v, want remote error", err)
	}
	if r.State("posts") != "open" {
		t.Errorf("state = %s, want open after failed probe", r.State("posts"))
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	r := NewRegistry(Settings{Threshold: 3, Cooldown: time.Minute})

	failing := func() (any, error) { return nil, errRemote }
	ok := func() (any, error) { return nil, nil }

	r.Execute("reviews", failing)
	r.Execute("reviews", failing)
	r.Execute("reviews", ok)
	r.Execute("reviews", failing)
	r.Execute("reviews", failing)

	// Failures are not consecutive across the success, so still closed
	if r.State("reviews") != "closed" {
		t.Errorf("state = %s, want closed (non-consecutive failures)", r.State("reviews"))
	}
}

func TestTypedExecute(t *testing.T) {
	r := NewRegistry(Settings{})

	n, err := Execute(r, "locations", func() (int, error) { return 7, nil })
	if err != nil || n != 7 {
		t.Fatalf("Execute = (%d, %v), want (7, nil)", n, err)
	}

	_, err = Execute(r, "locations", func() (int, error) { return 0, errRemote })
	if !errors.Is(err, errRemote) {
		t.Fatalf("err = %v, want remote error", err)
	}
}
