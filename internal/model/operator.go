package model

import "time"

// Operator is a verified exam taker.
type Operator struct {
	OperatorID string `json:"operator_id"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status,omitempty"`
}

// VerifyOperatorRequest is the payload for operator verification.
type VerifyOperatorRequest struct {
	OperatorID string `json:"operator_id" binding:"required,min=1,max=64"`
}

// AdminLoginRequest is the payload for admin login.
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// SessionAction enumerates the operator actions written to the session log.
type SessionAction string

const (
	SessionActionLogin  SessionAction = "login"
	SessionActionStart  SessionAction = "start"
	SessionActionFinish SessionAction = "finish"
	SessionActionAbort  SessionAction = "abort"
)

// SessionLogEntry is one operator activity record.
type SessionLogEntry struct {
	OperatorID string            `json:"operator_id"`
	At         time.Time         `json:"at"`
	Action     SessionAction     `json:"action"`
	IPAddress  string            `json:"ip_address"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
