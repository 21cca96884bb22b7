package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

// HTTPStatusError is a non-2xx response from an HTTP dependency.
type HTTPStatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s %s status: %s", e.Service, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s status: %s: %s", e.Service, e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// JSONCall is one JSON request to an HTTP dependency. A nil Out discards
// the response body.
type JSONCall struct {
	Service   string
	Operation string
	Method    string
	URL       string
	Body      any
	Out       any
}

// DoJSON sends call through exec (nil calls directly). Transient failures
// come back wrapped as domain.ErrTemporary.
func DoJSON(ctx context.Context, client *http.Client, exec *Executor, call JSONCall) error {
	body, err := json.Marshal(call.Body)
	if err != nil {
		return fmt.Errorf("marshal %s %s request: %w", call.Service, call.Operation, err)
	}

	send := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create %s %s request: %w", call.Service, call.Operation, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s request: %w", call.Service, call.Operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return NewHTTPStatusError(call.Service, call.Operation, resp)
		}
		if call.Out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(call.Out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", call.Service, call.Operation, err)
		}
		return nil
	}

	if exec != nil {
		err = exec.Execute(ctx, call.Service+"."+call.Operation, send, ClassifyTransportError)
	} else {
		err = send(ctx)
	}
	return WrapTemporary(call.Service+" "+call.Operation, err, ClassifyTransportError)
}

// NewHTTPStatusError reads up to 2KiB of the response body into the error.
func NewHTTPStatusError(service, operation string, resp *http.Response) *HTTPStatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Service:    service,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// ClassifyTransportError treats network failures and retryable HTTP
// statuses as transient. Caller cancellation is never recorded.
func ClassifyTransportError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if IsCircuitOpen(err) {
		return ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return ErrorClassification{
				Retryable:     true,
				RecordFailure: true,
			}
		}
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

// WrapTemporary marks err as domain.ErrTemporary when classifier says it is
// transient or the breaker rejected the call.
func WrapTemporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifier == nil {
		classifier = defaultClassifier
	}
	if classifier(err).Retryable || IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
