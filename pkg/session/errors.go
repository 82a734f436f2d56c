package session

import "github.com/pkg/errors"

var (
	// ErrFetchPending is returned by operations that cannot run while a
	// response is outstanding.
	ErrFetchPending = errors.New("a response is still pending")
	// ErrStaleResult is returned by Deliver for a result that does not belong
	// to the outstanding fetch.
	ErrStaleResult = errors.New("fetch result does not match the pending fetch")
	ErrLoopStopped = errors.New("session loop stopped")

	ErrCharacterTitleRequired = errors.New("character title is required")
)

// ErrorMarkerPrefix starts the assistant message recorded for a failed fetch.
const ErrorMarkerPrefix = "Error: "

// ErrorMarker renders a failed fetch as inline transcript text.
func ErrorMarker(err error) string {
	return ErrorMarkerPrefix + err.Error()
}
