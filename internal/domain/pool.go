package domain

import "time"

type SessionID string

type SessionInfo struct {
	ID         SessionID
	InUse      bool
	RequestID  string
	CreatedAt  time.Time
	AcquiredAt time.Time
	LeaseAt    time.Time
	Closed     bool
}

type HostInfo struct {
	Connected        bool
	StartedAt        time.Time
	LastActivityAt   time.Time
	Profile          string
	LiveSessions     int
	ConsecutiveFails int
	Restarts         int
}

type PoolSnapshot struct {
	MaxPoolSize int
	MaxTabs     int
	Live        int
	Idle        int
	InUse       int
	Creating    int
	Queued      int
	Sessions    []SessionInfo
	Host        HostInfo
}
