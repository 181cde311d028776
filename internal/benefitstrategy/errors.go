package benefitstrategy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
)

// ActionRequiredError means the customer has to do something (connect an
// account, accept an invite) before the benefit can be provisioned. It is
// recorded on the grant and never retried automatically.
type ActionRequiredError struct {
	Message string
	Payload map[string]any
}

func (e *ActionRequiredError) Error() string {
	return "action required: " + e.Message
}

func NewActionRequired(message string, payload map[string]any) *ActionRequiredError {
	return &ActionRequiredError{Message: message, Payload: payload}
}

// RecordPayload is what gets stored in the grant's error payload.
func (e *ActionRequiredError) RecordPayload() map[string]any {
	out := map[string]any{"message": e.Message}
	if len(e.Payload) > 0 {
		out["payload"] = e.Payload
	}
	return out
}

// RetriableError is a transient failure. DeferSeconds, when set, is the
// delay the job queue should wait before the next attempt.
type RetriableError struct {
	Message      string
	DeferSeconds *int
	Err          error
}

func (e *RetriableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retriable: %s: %v", e.Message, e.Err)
	}
	return "retriable: " + e.Message
}

func (e *RetriableError) Unwrap() error { return e.Err }

// RetryDelay lets the job worker honour DeferSeconds.
func (e *RetriableError) RetryDelay() (time.Duration, bool) {
	if e.DeferSeconds == nil || *e.DeferSeconds <= 0 {
		return 0, false
	}
	return time.Duration(*e.DeferSeconds) * time.Second, true
}

func NewRetriable(message string, err error) *RetriableError {
	return &RetriableError{Message: message, Err: err}
}

func NewRetriableAfter(message string, deferSeconds int) *RetriableError {
	return &RetriableError{Message: message, DeferSeconds: &deferSeconds}
}

// ConfigurationError means the deployment has no strategy for a benefit type.
type ConfigurationError struct {
	BenefitType benefitdomain.BenefitType
	Message     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("benefit strategy configuration (%s): %s", e.BenefitType, e.Message)
}

// ValidationError rejects merchant-supplied benefit properties.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid benefit properties: " + e.Message
	}
	return fmt.Sprintf("invalid benefit properties: %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamError is returned by integration clients for failed API calls.
type UpstreamError struct {
	Service    string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream error (status %d): %v", e.Service, e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ClassifyUpstream turns transient integration failures into RetriableError.
// Rate limits keep the upstream's Retry-After. Everything else is returned
// unchanged.
func ClassifyUpstream(err error) error {
	if err == nil {
		return nil
	}

	var retriable *RetriableError
	var actionRequired *ActionRequiredError
	if errors.As(err, &retriable) || errors.As(err, &actionRequired) {
		return err
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		switch {
		case upstream.StatusCode == http.StatusTooManyRequests:
			seconds := int(upstream.RetryAfter.Round(time.Second) / time.Second)
			if seconds <= 0 {
				return NewRetriable(upstream.Service+" rate limited", err)
			}
			return &RetriableError{Message: upstream.Service + " rate limited", DeferSeconds: &seconds, Err: err}
		case upstream.StatusCode >= 500:
			return NewRetriable(upstream.Service+" unavailable", err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewRetriable("upstream timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRetriable("upstream timeout", err)
	}
	return err
}
