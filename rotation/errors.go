package rotation

import "errors"

var (
	// ErrNoSubtreeKey indicates no subtree DEK is registered for the prefix.
	ErrNoSubtreeKey = errors.New("rotation: no subtree key for prefix")

	// ErrCancelled indicates the operation stopped at a suspension point;
	// the returned report covers the work completed before the stop.
	ErrCancelled = errors.New("rotation: cancelled")
)
