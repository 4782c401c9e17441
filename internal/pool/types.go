package pool

import "time"

// Status is the allocation state of a pooled upstream credential.
type Status int

const (
	StatusAvailable Status = iota
	StatusInUse
	StatusFaulty
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusInUse:
		return "in_use"
	case StatusFaulty:
		return "faulty"
	default:
		return "unknown"
	}
}

// Credential is a snapshot of one pooled upstream secret. The Value field is
// the credential's identity and never changes after load.
type Credential struct {
	Value          string
	Label          string
	Status         Status
	AssignedCaller string
	LastAssignedAt time.Time
	FaultyAt       time.Time
}

// Info is the management-facing view of a credential. The secret itself is
// redacted down to a short prefix.
type Info struct {
	ValuePrefix    string    `json:"value_prefix"`
	Label          string    `json:"label,omitempty"`
	Status         string    `json:"status"`
	AssignedCaller string    `json:"assigned_caller,omitempty"`
	LastAssignedAt time.Time `json:"last_assigned_at,omitempty"`
	FaultyAt       time.Time `json:"faulty_at,omitempty"`
	LeaseFresh     bool      `json:"lease_fresh"`
}
