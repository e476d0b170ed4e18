package callstate

import "callcenter-core/internal/callrecord"

// statusRank orders session statuses along the call lifecycle. Used by the
// reconciler to refuse regressions (a "ringing" event arriving after
// "answered" must not roll the call back).
var statusRank = map[callrecord.Status]int{
	callrecord.StatusQueued:     1,
	callrecord.StatusRinging:    2,
	callrecord.StatusInProgress: 3,
	callrecord.StatusCompleted:  4,
	callrecord.StatusFailed:     4,
	callrecord.StatusCanceled:   4,
}

// Allowed reports whether a session status transition is legal.
// Terminal statuses admit nothing; everything non-terminal may fail or be
// canceled; otherwise the lifecycle only moves forward.
func Allowed(from, to callrecord.Status) bool {
	if from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case callrecord.StatusFailed, callrecord.StatusCanceled:
		return true
	case callrecord.StatusRinging:
		return from == callrecord.StatusQueued
	case callrecord.StatusInProgress:
		return from == callrecord.StatusQueued || from == callrecord.StatusRinging
	case callrecord.StatusCompleted:
		return from == callrecord.StatusRinging || from == callrecord.StatusInProgress
	default:
		return false
	}
}

// Rank exposes the lifecycle position of a status; later statuses compare
// greater. Equal-rank terminal statuses never replace each other.
func Rank(s callrecord.Status) int {
	return statusRank[s]
}
