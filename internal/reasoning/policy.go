package reasoning

import "time"

// Policy holds every detector threshold. DefaultPolicy reproduces the
// documented values; config.LoadPolicy can override them from a CUE file.
type Policy struct {
	// Wallet drain: DrainMinEvents financial events on one trace within
	// DrainWindow.
	DrainMinEvents int           `json:"drain_min_events"`
	DrainWindow    time.Duration `json:"drain_window"`

	// Escrow failure cluster.
	EscrowMinEvents   int           `json:"escrow_min_events"`
	EscrowMinFailures int           `json:"escrow_min_failures"`
	EscrowWindow      time.Duration `json:"escrow_window"`

	// Governance inactivity: no governance events within this period.
	GovernanceInactivity time.Duration `json:"governance_inactivity"`

	// Latency spike.
	LatencyMinEvents int           `json:"latency_min_events"`
	LatencyWindow    time.Duration `json:"latency_window"`

	// Repeated error cluster (per category).
	ErrorClusterMin    int           `json:"error_cluster_min"`
	ErrorClusterWindow time.Duration `json:"error_cluster_window"`

	// Cross-module correlation on a shared trace.
	CrossModuleMinCategories int `json:"cross_module_min_categories"`
	CrossModuleMinErrors     int `json:"cross_module_min_errors"`

	// Statistical anomaly. Z-scores at or beyond the thresholds fire.
	AnomalyMinHistory int           `json:"anomaly_min_history"`
	AnomalyWarningZ   float64       `json:"anomaly_warning_z"`
	AnomalyCriticalZ  float64       `json:"anomaly_critical_z"`
	BaselineMaxAge    time.Duration `json:"baseline_max_age"`

	// Trend prediction.
	TrendWindow        time.Duration `json:"trend_window"`
	TrendMinPoints     int           `json:"trend_min_points"`
	TrendHorizon       time.Duration `json:"trend_horizon"`
	TrendGrowthFactor  float64       `json:"trend_growth_factor"`
	TrendWarningFactor float64       `json:"trend_warning_factor"`
}

// DefaultPolicy returns the documented detector thresholds.
func DefaultPolicy() Policy {
	return Policy{
		DrainMinEvents: 3,
		DrainWindow:    time.Minute,

		EscrowMinEvents:   5,
		EscrowMinFailures: 5,
		EscrowWindow:      5 * time.Minute,

		GovernanceInactivity: time.Hour,

		LatencyMinEvents: 3,
		LatencyWindow:    10 * time.Minute,

		ErrorClusterMin:    5,
		ErrorClusterWindow: 5 * time.Minute,

		CrossModuleMinCategories: 2,
		CrossModuleMinErrors:     2,

		AnomalyMinHistory: 10,
		AnomalyWarningZ:   2.5,
		AnomalyCriticalZ:  3.0,
		BaselineMaxAge:    time.Hour,

		TrendWindow:        24 * time.Hour,
		TrendMinPoints:     5,
		TrendHorizon:       time.Hour,
		TrendGrowthFactor:  2.0,
		TrendWarningFactor: 3.0,
	}
}
