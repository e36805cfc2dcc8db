package model

// SchedulePreference configures the adaptive polling cadence. The active
// window is the half-open hour range [ActiveStartHour, ActiveEndHour) and
// wraps past midnight when start > end.
type SchedulePreference struct {
	ActiveIntervalMinutes int `json:"activeIntervalMinutes" mapstructure:"active_interval_minutes"`
	QuietIntervalMinutes  int `json:"quietIntervalMinutes" mapstructure:"quiet_interval_minutes"`
	ActiveStartHour       int `json:"activeStartHour" mapstructure:"active_start_hour"`
	ActiveEndHour         int `json:"activeEndHour" mapstructure:"active_end_hour"`
}
