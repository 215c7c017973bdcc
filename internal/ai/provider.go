package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type Message struct {
	Role    string
	Content string
}

// Provider is a text-only chat completion backend.
type Provider interface {
	Chat(ctx context.Context, messages []Message, maxTokens int) (string, error)
}

// Request is one inference call. Image is optional.
type Request struct {
	Text      string
	Image     []byte
	ImageName string
	MaxTokens int
}

// Reply is the text to store plus a label naming what produced it.
type Reply struct {
	Text  string
	Model string
}

// APIError is a non-2xx answer from an upstream inference service.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

// Temporary reports whether retrying later could succeed.
func (e *APIError) Temporary() bool {
	return e.Status == 429 || e.Status >= 500
}

// IsTransient classifies err as a timeout, connection failure or retryable
// upstream status. Validation and auth failures are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
