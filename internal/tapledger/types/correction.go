package types

type CorrectionRequest struct {
	EventID       int64  `json:"event_id"`
	CorrectedAt   string `json:"corrected_at"` // RFC3339
	Reason        string `json:"reason"`
	Justification string `json:"justification"`
	RequestedBy   string `json:"requested_by"`
}

type CorrectionDecision struct {
	ActorID         string `json:"actor_id"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}
