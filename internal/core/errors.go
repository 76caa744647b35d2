package core

import "errors"

var (
	// ErrInputMalformed marks a segment or packet that cannot be processed.
	// The offending item is skipped and the pipeline continues.
	ErrInputMalformed = errors.New("input malformed")

	// ErrCollaboratorUnavailable marks an LLM, search or transport collaborator
	// that is disabled, unreachable or timed out.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrResolutionAmbiguous marks a mention below the soft confidence band.
	ErrResolutionAmbiguous = errors.New("resolution ambiguous")

	// ErrGraphWriteConflict marks a contended write to the shared entity or relationship store.
	ErrGraphWriteConflict = errors.New("graph write conflict")

	ErrNotFound = errors.New("not found")
)
