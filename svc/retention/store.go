package retention

import "context"

// Store is the persistence boundary of the sweep.
type Store interface {
	// ListProfiles returns all parent profiles that contain at least one
	// soft-deleted child.
	ListProfiles(ctx context.Context) ([]ParentProfile, error)
	// ApplyCleanup erases the listed children in a single atomic commit.
	// Either every profile's cleanup lands or none does.
	ApplyCleanup(ctx context.Context, cleanups []ProfileCleanup) error
}
