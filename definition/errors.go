package definition

import (
	"fmt"
	"strings"
)

// Validation error codes.
const (
	CodeRead          = "D100" // file could not be read or decoded
	CodeMissingID     = "D101" // category has no id
	CodeSchema        = "D102" // entry does not satisfy the category schema
	CodeDuplicateID   = "D103" // two categories share an id
	CodeDuplicateAttr = "D104" // two attributes of one category share an id
	CodeUnknownParent = "D105" // parent names no category in the set
	CodeNoRoot        = "D106" // definitions directory is missing
)

// ValidationError describes one rejected definition entry.
type ValidationError struct {
	File    string `json:"file"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.File, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.File, e.Field, e.Message)
}

// ValidationErrors is returned when any entry of a definitions directory is
// rejected. No Set is produced alongside it.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	switch len(errs) {
	case 0:
		return "no validation errors"
	case 1:
		return errs[0].Error()
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d definition errors: %s", len(errs), strings.Join(msgs, "; "))
}

// HasCode reports whether any error carries code.
func (errs ValidationErrors) HasCode(code string) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}
