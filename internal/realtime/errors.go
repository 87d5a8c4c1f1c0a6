package realtime

import "errors"

var (
	// ErrValidation rejects a request before any state changes
	ErrValidation = errors.New("validation")
	// ErrPersistence means the durable store failed or timed out; nothing was broadcast
	ErrPersistence = errors.New("persistence")
	// ErrDelivery is a per-connection fan-out failure, logged and never surfaced to senders
	ErrDelivery = errors.New("delivery")
	// ErrUnknownTarget is a relay target with no live connections
	ErrUnknownTarget = errors.New("unknown target")
	// ErrForbidden is a group join/send refused by the membership check
	ErrForbidden = errors.New("forbidden")

	ErrConnClosed = errors.New("connection closed")
)

// errorCode maps an error onto the code reported to the client
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}
