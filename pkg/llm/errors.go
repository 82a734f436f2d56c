package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
)

var (
	ErrUnreachable       = errors.New("llm unreachable")
	ErrTimeout           = errors.New("llm timed out")
	ErrMalformedResponse = errors.New("malformed llm response")
)

// FetchError carries the failure class of an LLM call alongside its cause.
type FetchError struct {
	Kind error
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Is(target error) bool { return target == e.Kind }

func (e *FetchError) Unwrap() error { return e.Err }

func newFetchError(kind error, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// Malformed reports an unusable response body.
func Malformed(format string, args ...interface{}) error {
	return newFetchError(ErrMalformedResponse, errors.Errorf(format, args...))
}

// Classify maps err onto one of the three failure classes. Errors that are
// already classified pass through unchanged; nil stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newFetchError(ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newFetchError(ErrTimeout, err)
	}

	// HTTP error statuses may carry a non-JSON body; the status wins over the
	// decode failure.
	var apiErr *go_openai.APIError
	var reqErr *go_openai.RequestError
	if errors.As(err, &apiErr) || errors.As(err, &reqErr) {
		return newFetchError(ErrUnreachable, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return newFetchError(ErrMalformedResponse, err)
	}

	// Refused connections, DNS failures and the like.
	return newFetchError(ErrUnreachable, err)
}
