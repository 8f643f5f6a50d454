package types

type TapRequest struct {
	ReaderID   string `json:"reader_id"`
	CardUID    string `json:"card_uid"`
	EventKind  string `json:"event_kind"`             // time_in | time_out | break_start | break_end
	OccurredAt string `json:"occurred_at,omitempty"`  // optional device timestamp; server time if absent
}

type TapResponse struct {
	OK         bool   `json:"ok"`
	Known      bool   `json:"known"`
	SequenceID int64  `json:"sequence_id,omitempty"`
	ReaderID   string `json:"reader_id"`
	ServerTime string `json:"server_time"`
}
