package sandbox

import "errors"

// Errors that abort an execution before the container is started. Callers
// match them with errors.Is; ExecuteCode converts them into failed results.
var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrMaterialization     = errors.New("failed to materialize source")
	ErrUnitCreation        = errors.New("failed to create execution unit")
)
