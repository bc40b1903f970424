package monitor

// Status is the tracked availability of a monitored URL.
type Status int

const (
	// StatusUnknown means the URL has not been probed since startup.
	StatusUnknown Status = iota
	StatusUp
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusUp:
		return "up"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}
