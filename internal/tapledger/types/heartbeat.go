package types

type HeartbeatRequest struct {
	ReaderID        string `json:"reader_id"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	UptimeSeconds   uint64 `json:"uptime_s,omitempty"`
	Sequence        uint64 `json:"sequence,omitempty"`
	RSSIDbm         *int   `json:"rssi_dbm,omitempty"`
	IP              string `json:"ip,omitempty"`
	FreeHeapBytes   uint64 `json:"free_heap_bytes,omitempty"`
}

type HeartbeatResponse struct {
	OK         bool   `json:"ok"`
	Known      bool   `json:"known"`
	ReaderID   string `json:"reader_id"`
	ServerTime string `json:"server_time"`
}
