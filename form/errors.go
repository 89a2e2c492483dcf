package form

import (
	"errors"

	"github.com/lexify/requestforms/category"
)

// Sentinel errors for drafts and submission.
var (
	ErrUnknownSlot        = errors.New("unknown attachment slot")
	ErrFileIndex          = errors.New("attachment index out of range")
	ErrNoContent          = errors.New("attachment has no content")
	ErrInvalidDraft       = errors.New("draft is not valid")
	ErrSubmissionInFlight = errors.New("a submission of this draft is already in progress")
)

// ValidationError reports the first unmet requirement of a draft. It is an
// ordinary result of validation, shown to the user as is.
type ValidationError struct {
	Field   string         `json:"field,omitempty"`
	Stage   category.Stage `json:"stage"`
	Message string         `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}
