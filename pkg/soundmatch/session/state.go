package session

import (
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
)

type State int

const (
	Idle State = iota
	PreparingAudio
	Listening
	ProcessingSignature
	Matching
	Matched
	NoMatch
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PreparingAudio:
		return "preparing-audio"
	case Listening:
		return "listening"
	case ProcessingSignature:
		return "processing-signature"
	case Matching:
		return "matching"
	case Matched:
		return "matched"
	case NoMatch:
		return "no-match"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether a recognition attempt is under way.
func (s State) Active() bool {
	switch s {
	case PreparingAudio, Listening, ProcessingSignature, Matching:
		return true
	}
	return false
}

// Terminal reports whether s ends a recognition attempt.
func (s State) Terminal() bool {
	return s == Matched || s == NoMatch || s == Error
}

// Status is a snapshot of a session. Err is set only in the Error state and
// Result only in the Matched state.
type Status struct {
	State     State
	Err       error
	Result    *models.MatchResult
	Signature *fingerprint.Signature
	Epoch     uint64
}
