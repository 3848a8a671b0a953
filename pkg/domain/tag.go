package domain

import "time"

// Tag is a user-defined label; names are lowercased and unique per owner
type Tag struct {
	ID        int64
	OwnerID   int64
	Name      string
	Color     string
	CreatedAt time.Time
}
