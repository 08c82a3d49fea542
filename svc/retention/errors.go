package retention

import "errors"

var (
	ErrInvalidDeletionMarker = errors.New("deleted child profile has inconsistent deletion markers")
	ErrCommitFailed          = errors.New("failed to commit retention cleanup")
)
