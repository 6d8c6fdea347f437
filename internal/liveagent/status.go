package liveagent

// Status is the logical call state observers see
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	StatusErrorMic     Status = "error_mic"
)

// legEvent is something that happened to a physical leg or its resources
type legEvent int

const (
	legDialing legEvent = iota
	legOpened
	legOpenFailed
	legClosed // remote closed normally
	legFailed // remote connection broke
	micFailed
	recoveryFailed
)

func (e legEvent) String() string {
	switch e {
	case legDialing:
		return "dialing"
	case legOpened:
		return "opened"
	case legOpenFailed:
		return "open_failed"
	case legClosed:
		return "closed"
	case legFailed:
		return "failed"
	case micFailed:
		return "mic_failed"
	case recoveryFailed:
		return "recovery_failed"
	default:
		return "unknown"
	}
}

// logicalTransition maps a leg event to the status observers should see, if
// any. While handingOver the physical churn is invisible: only a newly
// opened leg re-confirms connected. A failed leg never surfaces directly;
// recovery runs first and only recoveryFailed reaches the caller.
func logicalTransition(ev legEvent, handingOver bool) (Status, bool) {
	switch ev {
	case legDialing:
		if handingOver {
			return "", false
		}
		return StatusConnecting, true
	case legOpened:
		return StatusConnected, true
	case legOpenFailed:
		if handingOver {
			return "", false
		}
		return StatusError, true
	case legClosed:
		if handingOver {
			return "", false
		}
		return StatusDisconnected, true
	case micFailed:
		return StatusErrorMic, true
	case recoveryFailed:
		return StatusError, true
	default:
		return "", false
	}
}
