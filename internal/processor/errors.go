package processor

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

// normalizeError converts any runner error into the persisted shape. The
// name is the concrete error type; stacks are captured only when withStack
// is set (non-production builds).
func normalizeError(err error, withStack bool) domain.JobError {
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if name == "errors.errorString" || name == "fmt.wrapError" {
		name = "error"
	}
	je := domain.JobError{
		Message: err.Error(),
		Name:    name,
	}
	if withStack {
		je.Stack = string(debug.Stack())
	}
	return je
}
