package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"wrapped cancellation", fmt.Errorf("op: %w", context.Canceled), false},
		{"api error", &APIError{StatusCode: 404}, false},
		{"wrapped api error", fmt.Errorf("op: %w", &APIError{StatusCode: 422}), false},
		{"rate limit", &RateLimitError{ResetAt: time.Now()}, true},
		{"network timeout", timeoutErr{}, true},
		{"unclassified", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&APIError{StatusCode: http.StatusNotFound}))
	assert.True(t, IsNotFound(fmt.Errorf("op: %w", &APIError{StatusCode: http.StatusNotFound})))
	assert.False(t, IsNotFound(&APIError{StatusCode: http.StatusUnauthorized}))
	assert.False(t, IsNotFound(errors.New("other")))
}
