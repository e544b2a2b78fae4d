package jobs

import "errors"

var (
	// ErrInvalidSpec is returned when a job spec fails validation before
	// any scheduler API call is made.
	ErrInvalidSpec = errors.New("invalid job spec")

	// ErrJobNotFound is returned by Status when the scheduler has no job
	// under the queried name.
	ErrJobNotFound = errors.New("job not found")

	// ErrDeletionTimeout is returned by SubmitWithRecovery when a
	// conflicting job did not disappear within the deletion timeout. The
	// controller fails closed: it does not recreate the job in that case,
	// to avoid two live jobs racing under the same name.
	ErrDeletionTimeout = errors.New("deletion timeout exceeded")
)
