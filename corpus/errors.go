package corpus

import "fmt"

// DataError is returned when the corpus file is missing or unreadable.
type DataError struct {
	Path  string
	Cause error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("corpus: cannot read %s: %v", e.Path, e.Cause)
}

func (e *DataError) Unwrap() error { return e.Cause }

// InsufficientDataError is returned when fewer valid records than the
// training threshold were loaded. Training aborts and no artifact is written.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("corpus: too few samples to train: have %d, need at least %d", e.Have, e.Need)
}
