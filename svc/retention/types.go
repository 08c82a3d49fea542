package retention

import "time"

// ChildProfile is a student profile embedded in its parent account document.
// Deleting a child is a soft delete: the record stays until the retention
// window elapses, then the sweep erases it for good.
type ChildProfile struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	BirthYear int       `json:"birth_year" bson:"birth_year"`
	Deleted   bool      `json:"deleted" bson:"deleted"`
	DeletedAt time.Time `json:"deleted_at,omitzero" bson:"deleted_at"`
	PurgeAt   time.Time `json:"purge_at,omitzero" bson:"purge_at"`
}

// expired reports whether the child is past its retention deadline and must
// be erased.
func (c ChildProfile) expired(now time.Time) bool {
	return c.Deleted && !c.PurgeAt.IsZero() && !now.Before(c.PurgeAt)
}

// validate rejects inconsistent soft-delete markers. A child flagged deleted
// must carry both timestamps, and the purge deadline cannot precede deletion.
func (c ChildProfile) validate() error {
	if !c.Deleted {
		return nil
	}
	if c.DeletedAt.IsZero() || c.PurgeAt.IsZero() {
		return ErrInvalidDeletionMarker
	}
	if c.PurgeAt.Before(c.DeletedAt) {
		return ErrInvalidDeletionMarker
	}
	return nil
}

// ParentProfile is the account document owning child profiles.
type ParentProfile struct {
	ID            string         `json:"id" bson:"_id"`
	UserID        string         `json:"user_id" bson:"user_id"`
	Children      []ChildProfile `json:"children" bson:"children"`
	LastCleanupAt time.Time      `json:"last_cleanup_at,omitzero" bson:"last_cleanup_at"`
	UpdatedAt     time.Time      `json:"updated_at" bson:"updated_at"`
}

// ProfileCleanup is the planned erasure for one parent profile: the IDs of
// children whose retention window has elapsed.
type ProfileCleanup struct {
	ProfileID string
	ChildIDs  []string
}

// Report summarizes one sweep run.
type Report struct {
	Scanned   int       `json:"scanned"`
	Deleted   int       `json:"deleted"`
	Errors    int       `json:"errors"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}
