package domain

import "time"

// RuntimeRecord is the persisted ledger of the running agent.
type RuntimeRecord struct {
	BotID               string
	StartedAt           time.Time
	LastLoginAt         time.Time
	LastCheckpointAt    time.Time
	LastCheckpointError string
	LastRotationAt      time.Time
	ListenerID          ListenerID
	Rotations           int64
	Restarts            int64
	Encrypted           bool
}

// CheckpointStale reports whether no checkpoint happened within maxAge.
func (r RuntimeRecord) CheckpointStale(now time.Time, maxAge time.Duration) bool {
	if r.LastCheckpointAt.IsZero() {
		return true
	}
	if maxAge <= 0 {
		return false
	}
	return now.Sub(r.LastCheckpointAt) > maxAge
}
