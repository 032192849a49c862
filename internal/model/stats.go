package model

// DashboardStats holds the aggregate KPI counters shown on the dashboard.
// The counters are sourced from the archive (24h windows), not derived from
// the store's event list.
type DashboardStats struct {
	FallDetected     uint64 `json:"fall_detected"`
	BedsoreDetected  uint64 `json:"bedsore_detected"`
	BedEmptyAlerts   uint64 `json:"bed_empty_alerts"`
	OtherEvents      uint64 `json:"other_events"`
	TotalEvents24h   uint64 `json:"total_events_24h"`
	ResolvedEvents   uint64 `json:"resolved_events"`
	UnresolvedEvents uint64 `json:"unresolved_events"`
	ActivePatients   int    `json:"active_patients"`
	ActiveCCTVs      int    `json:"active_cctvs"`
}
