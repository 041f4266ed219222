package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	gh "github.com/google/go-github/v80/github"
)

// APIError is a non-retryable upstream failure (auth, validation, not-found).
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error %d: %s (%s)", e.StatusCode, e.Message, e.URL)
}

// RateLimitError indicates the remote quota is exhausted. It is retryable
// once the window resets.
type RateLimitError struct {
	ResetAt   time.Time
	Remaining int
	Limit     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github rate limit exhausted (%d/%d), resets at %s",
		e.Remaining, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// ErrInvalidRepository is returned when a repository reference is not of the
// form "owner/name".
var ErrInvalidRepository = errors.New("repository must be of the form owner/name")

// wrapError converts go-github errors into the local taxonomy.
func wrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		return &RateLimitError{
			ResetAt:   rle.Rate.Reset.Time,
			Remaining: rle.Rate.Remaining,
			Limit:     rle.Rate.Limit,
		}
	}

	var arle *gh.AbuseRateLimitError
	if errors.As(err, &arle) {
		resetAt := time.Now().Add(time.Minute)
		if arle.RetryAfter != nil {
			resetAt = time.Now().Add(*arle.RetryAfter)
		}
		return &RateLimitError{ResetAt: resetAt}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		// 5xx responses stay retryable; everything else in an ErrorResponse
		// (401/403/404/422) is a permanent upstream failure.
		if ghErr.Response.StatusCode < http.StatusInternalServerError {
			url := ""
			if ghErr.Response.Request != nil && ghErr.Response.Request.URL != nil {
				url = ghErr.Response.Request.URL.String()
			}
			return &APIError{
				StatusCode: ghErr.Response.StatusCode,
				Message:    ghErr.Message,
				URL:        url,
			}
		}
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// IsRetryable reports whether err is a transient upstream failure worth
// retrying: network errors, timeouts, quota exhaustion, and 5xx responses.
// Permanent failures (APIError) and context cancellation are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode >= http.StatusInternalServerError
	}

	// Unclassified errors (wrapped transport failures) default to retryable;
	// the retry budget bounds the damage of a wrong guess.
	return true
}

// IsNotFound reports whether err is a 404 for the requested resource.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
