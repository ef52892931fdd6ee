package domain

import "time"

// Counters are the pipeline observability counters exposed on the status surface.
type Counters struct {
	TradesIngested int64 `json:"trades_ingested"`
	Duplicates     int64 `json:"duplicates"`
	StaleTrades    int64 `json:"stale_trades"`
	DecodeErrors   int64 `json:"decode_errors"`
	StoreErrors    int64 `json:"store_errors"`
	ReportsEmitted int64 `json:"reports_emitted"`
	ReportFailures int64 `json:"report_failures"`
	Reconnects     int64 `json:"reconnects"`
	SellAlerts     int64 `json:"sell_alerts"`
	AlertsDropped  int64 `json:"alerts_dropped"`
	BroadcastFails int64 `json:"broadcast_failures"`
	PushesSent     int64 `json:"pushes_sent"`
	PushesSkipped  int64 `json:"pushes_skipped"`
	PushFailures   int64 `json:"push_failures"`
}

// ServiceStatus is a point-in-time snapshot of the running tracker.
type ServiceStatus struct {
	Account    string
	Connection ConnectionStatus
	Window     Window
	Counters   Counters
	StartedAt  time.Time
}
