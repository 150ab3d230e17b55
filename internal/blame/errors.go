package blame

import (
	"fmt"

	"github.com/samcharles93/gpuadvisor/internal/program"
)

var (
	// ErrDataConsistency reports an address referenced by a context or
	// dependency edge that has no catalog entry. It aborts the pair.
	ErrDataConsistency = program.ErrDataConsistency

	// ErrBlameOutsideBlock reports a blame fact whose destination does not
	// fall inside any block of the function being aggregated.
	ErrBlameOutsideBlock = fmt.Errorf("%w: blame outside block", ErrDataConsistency)
)

func missingAddress(what string, addr program.Address) error {
	return fmt.Errorf("%w: %s %s has no catalog entry", ErrDataConsistency, what, addr)
}
