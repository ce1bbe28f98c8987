package models

import "time"

// CaseContext identifies one assessment and carries its seed. Callers own it
// and pass it explicitly; nothing in the pipeline keeps it between calls.
type CaseContext struct {
	CaseID      string    `json:"case_id"`
	Seed        int64     `json:"seed"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewCaseContext returns a context stamped with the current time
func NewCaseContext(caseID string, seed int64) CaseContext {
	return CaseContext{CaseID: caseID, Seed: seed, RequestedAt: time.Now()}
}
