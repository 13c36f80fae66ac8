package models

var transitions = map[string][]string{
	StatusPendingPayment: {StatusConfirmed, StatusExpired, StatusCancelled},
	StatusConfirmed:      {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn:      {StatusCompleted},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(status string) bool {
	switch status {
	case StatusCancelled, StatusExpired, StatusCompleted:
		return true
	}
	return false
}

// OccupiesCourt reports whether a booking in this status blocks its interval.
func OccupiesCourt(status string) bool {
	return status != StatusCancelled && status != StatusExpired
}
