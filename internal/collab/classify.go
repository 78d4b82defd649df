package collab

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// ClassifyModel maps a model-provider error onto a Kind. Status mapping:
// 401/403 auth, 429 rate limit, 5xx transient, other API errors malformed
// request handling. Errors with no API response are network-level and
// treated as transient.
func ClassifyModel(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var existing *Error
	if errors.As(err, &existing) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return AuthFailed(op, err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return RateLimited(op, err)
		case apiErr.StatusCode >= 500:
			return Transient(op, err)
		default:
			return Malformed(op, err)
		}
	}

	return Transient(op, err)
}

// ClassifyTracker maps a tracker API error onto a Kind, using the HTTP
// response when one came back.
func ClassifyTracker(op string, resp *gitlab.Response, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if resp != nil && resp.Response != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return AuthFailed(op, err)
		case resp.StatusCode == http.StatusNotFound:
			return NotFound(op, err)
		case resp.StatusCode == http.StatusTooManyRequests:
			return RateLimited(op, err)
		case resp.StatusCode >= 500:
			return Transient(op, err)
		}
	}

	return Transient(op, err)
}
