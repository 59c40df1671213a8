package domain

import "time"

// PresenceEntry is the advisory online state of a member
type PresenceEntry struct {
	LastSeen time.Time `json:"last_seen"`
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
}

// PresenceSnapshotResponse represents the online set response
type PresenceSnapshotResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}
