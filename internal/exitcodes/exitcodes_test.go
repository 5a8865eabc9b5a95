package exitcodes

import (
	"errors"
	"fmt"
	"testing"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, Success},
		{"explicit exit error", NewExitError(errors.New("boom"), StateError), StateError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(errors.New("boom"), ConfigError)), ConfigError},
		{"yaml parse", errors.New("yaml: line 3: mapping values are not allowed"), ConfigError},
		{"missing required", errors.New("invalid configuration: missing required field provider.base_url"), ConfigError},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), ConnectionError},
		{"rate limited", errors.New("provider returned 429: rate limit exceeded"), ConnectionError},
		{"circuit open", errors.New("circuit breaker is open"), ConnectionError},
		{"auth failure", errors.New("credential provider: unauthorized"), ConnectionError},
		{"validation ceiling", errors.New("reviews: error ceiling reached (3)"), ValidationError},
		{"cancelled", errors.New("context canceled"), Cancelled},
		{"resume unknown run", errors.New("resume: run not found: abc123"), StateError},
		{"unclassified", errors.New("something odd happened"), SyncError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromError(tt.err); got != tt.want {
				t.Errorf("FromError(%v) = %d (%s), want %d (%s)",
					tt.err, got, Description(got), tt.want, Description(tt.want))
			}
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []int{ConnectionError, Cancelled, IOError}
	for _, code := range recoverable {
		if !IsRecoverable(code) {
			t.Errorf("code %d (%s) should be recoverable", code, Description(code))
		}
	}
	for _, code := range []int{Success, ConfigError, SyncError, ValidationError, StateError} {
		if IsRecoverable(code) {
			t.Errorf("code %d (%s) should not be recoverable", code, Description(code))
		}
	}
}
