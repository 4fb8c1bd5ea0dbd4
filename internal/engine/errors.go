package engine

import "errors"

var (
	// ErrInvalidParticipant is returned when the participant id is empty.
	ErrInvalidParticipant = errors.New("participant id must not be empty")

	// ErrInvalidGroup is returned for counterbalancing groups outside 1..4.
	ErrInvalidGroup = errors.New("group must be between 1 and 4")

	// ErrInvalidStage is returned for stages other than LLM and SEARCH.
	ErrInvalidStage = errors.New("stage must be LLM or SEARCH")

	// ErrNoSession is returned by recording calls made before StartSession.
	ErrNoSession = errors.New("no active session")
)
