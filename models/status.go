package models

import "time"

// Reasons a channel left the backfill queue.
const (
	StopExhausted      = "exhausted"
	StopPermissionLost = "permission_lost"
	StopFailed         = "failed"
	StopUnavailable    = "unavailable"
)

// BackfillStatus is the structure of the backfill status file.
type BackfillStatus struct {
	LastUpdated time.Time                 `json:"last_updated"`
	Finished    bool                      `json:"finished"`
	Channels    map[string]*ChannelStatus `json:"channels"` // key is channel ID
}

// ChannelStatus records why and when a channel stopped being backfilled.
type ChannelStatus struct {
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	StoppedAt time.Time `json:"stopped_at"`
}
