// Package session provides the append-only event log behind conversational
// sessions. A session has no record of its own: it is the set of turns that
// share a session ID, ordered by sequence number.
package session

import (
	"time"
)

// Speaker label used for turns written on behalf of the user.
const SpeakerUser = "User"

// Turn is one recorded message in a session's event log.
// Turns are immutable once appended.
type Turn struct {
	// ID is the unique identifier for this turn.
	ID string `json:"id"`
	// SessionID groups turns into a session.
	SessionID string `json:"sessionId"`
	// SequenceNumber orders turns within a session, starting at 1.
	SequenceNumber int64 `json:"sequenceNumber"`
	// Timestamp is when the turn was created.
	Timestamp time.Time `json:"timestamp"`
	// Speaker is "User" or the identifying name of the model that answered.
	Speaker string `json:"speaker"`
	// Content is the message text.
	Content string `json:"content"`
}

// MaxSequence returns the highest sequence number in turns, or 0 if empty.
func MaxSequence(turns []*Turn) int64 {
	var max int64
	for _, t := range turns {
		if t.SequenceNumber > max {
			max = t.SequenceNumber
		}
	}
	return max
}

// filterFrom returns the turns with a sequence number >= from, preserving order.
func filterFrom(turns []*Turn, from int64) []*Turn {
	out := make([]*Turn, 0, len(turns))
	for _, t := range turns {
		if t.SequenceNumber >= from {
			out = append(out, t)
		}
	}
	return out
}
