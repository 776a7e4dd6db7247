package dispatch

import "fmt"

// ResolutionError means the token store could not be queried. Fatal to a dispatch.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("token resolution failed: %v", e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// CredentialError means no bearer credential could be obtained. Fatal to a dispatch.
// Body holds the raw token endpoint response, when there was one.
type CredentialError struct {
	Reason string
	Body   string
	Err    error
}

func (e *CredentialError) Error() string {
	msg := "credential acquisition failed: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *CredentialError) Unwrap() error { return e.Err }

// DeliveryError is a single token failure. It is recorded in the outcome
// and never aborts the other deliveries.
type DeliveryError struct {
	Token      string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery to %s rejected with status %d: %v", ShortToken(e.Token), e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery to %s failed: %v", ShortToken(e.Token), e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// LoggingError is a failed log write. It is only ever logged.
type LoggingError struct {
	Err error
}

func (e *LoggingError) Error() string {
	return fmt.Sprintf("notification log write failed: %v", e.Err)
}

func (e *LoggingError) Unwrap() error { return e.Err }

// ShortToken truncates a token for log output.
func ShortToken(token string) string {
	if len(token) <= 20 {
		return token
	}
	return token[:20] + "..."
}
