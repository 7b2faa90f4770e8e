package domain

import "errors"

var (
	// ErrCatalogUnavailable wraps transport/storage failures while reading
	// assessments or questions. Recoverable; callers may retry.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrPersistenceFailure means a result write did not confirm. The attempt
	// is not submitted; a retry is permitted.
	ErrPersistenceFailure = errors.New("result persistence failed")
	// ErrInvalidTransition is returned when an operation is not legal in the
	// session's current state (e.g. answering after completion).
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrSessionActive is returned when a participant starts an assessment
	// while another attempt is still in progress.
	ErrSessionActive = errors.New("another assessment is in progress")
	// ErrNoSession is returned for attempt operations without an active session.
	ErrNoSession = errors.New("no active session")
	// ErrAssessmentNotFound indicates an unknown assessment identifier.
	ErrAssessmentNotFound = errors.New("assessment not found")
	// ErrQuestionNotFound indicates an answered question ID outside the snapshot.
	ErrQuestionNotFound = errors.New("question not in this session")
	// ErrOptionOutOfRange indicates a selected option index outside the
	// question's option list.
	ErrOptionOutOfRange = errors.New("option index out of range")
	// ErrSubmissionInFlight means a persistence attempt is already running;
	// the caller should wait for it to confirm or fail before retrying.
	ErrSubmissionInFlight = errors.New("submission already in flight")
)
