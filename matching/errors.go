package matching

import "errors"

// Error kinds per §7. Compare with errors.Is, never string matching.
var (
	ErrInsufficientCollateral = errors.New("matching: insufficient collateral")
	ErrNotFound               = errors.New("matching: not found")
	ErrConflict               = errors.New("matching: conflict")
	ErrInvariantViolation     = errors.New("matching: invariant violation")
)
