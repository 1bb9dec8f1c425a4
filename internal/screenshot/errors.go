package screenshot

import (
	"errors"
	"fmt"
)

// Error kinds. Stage failures wrap exactly one of these so callers can classify
// them with errors.Is.
var (
	ErrBadRequest        = errors.New("bad request")
	ErrTargetUnavailable = errors.New("target unavailable")
	ErrBrowserLaunch     = errors.New("browser launch failed")
	ErrNavigation        = errors.New("navigation failed")
	ErrCapture           = errors.New("capture failed")
	ErrImageProcessing   = errors.New("image processing failed")
	ErrPublish           = errors.New("publish failed")
	ErrInvalidState      = errors.New("invalid session state")
	ErrQueueClosed       = errors.New("queue closed")
)

var kinds = []error{
	ErrBadRequest,
	ErrTargetUnavailable,
	ErrBrowserLaunch,
	ErrNavigation,
	ErrCapture,
	ErrImageProcessing,
	ErrPublish,
	ErrInvalidState,
	ErrQueueClosed,
}

// Wrap attaches kind to err. A nil err yields nil.
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Kind returns the first error kind err matches, or nil.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindLabel is a short label for err suitable for metric labels.
func KindLabel(err error) string {
	switch Kind(err) {
	case nil:
		if err == nil {
			return "none"
		}
		return "unknown"
	case ErrBadRequest:
		return "bad_request"
	case ErrTargetUnavailable:
		return "target_unavailable"
	case ErrBrowserLaunch:
		return "browser_launch"
	case ErrNavigation:
		return "navigation"
	case ErrCapture:
		return "capture"
	case ErrImageProcessing:
		return "image_processing"
	case ErrPublish:
		return "publish"
	case ErrInvalidState:
		return "invalid_state"
	default:
		return "queue_closed"
	}
}
