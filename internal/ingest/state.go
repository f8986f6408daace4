package ingest

import "errors"

// ErrInvalidTransition недопустимый переход автомата соединения
var ErrInvalidTransition = errors.New("invalid connection state transition")

// State состояние канала приема
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// canTransition описывает автомат:
//
//	Disconnected -> Connecting
//	Connecting   -> Open | Faulted | Closing
//	Open         -> Open | Faulted | Closing
//	Closing      -> Disconnected
//	Faulted      -> Disconnected
func canTransition(from, to State) bool {
	switch from {
	case Disconnected:
		return to == Connecting
	case Connecting:
		return to == Open || to == Faulted || to == Closing
	case Open:
		return to == Open || to == Faulted || to == Closing
	case Closing:
		return to == Disconnected
	case Faulted:
		return to == Disconnected
	default:
		return false
	}
}
