// Package stats derives usage and ROI figures from execution history.
package stats

import (
	"math"

	"github.com/dukex/provisioner/pkg/models"
)

const (
	// DefaultMinutesPerExecution applies to automations missing from the table.
	DefaultMinutesPerExecution = 10
	// DefaultHourlyRate is in NOK per hour.
	DefaultHourlyRate = 500.0
)

// minutesSaved is the manual effort one successful run replaces, per automation.
var minutesSaved = map[string]int{
	"fakturering":       15,
	"lead_capture":      5,
	"booking_reminders": 3,
}

// WorkflowStats summarizes an instance's executions.
type WorkflowStats struct {
	AutomationID     string  `json:"automation_id"`
	Total            int     `json:"total_executions"`
	Successful       int     `json:"successful_executions"`
	Failed           int     `json:"failed_executions"`
	Running          int     `json:"running_executions"`
	ItemsProcessed   int     `json:"items_processed"`
	AvgDurationMs    float64 `json:"avg_duration_ms"`
	UptimePercentage float64 `json:"uptime_percentage"`
	HoursSaved       float64 `json:"estimated_hours_saved"`
	CurrencySaved    float64 `json:"estimated_currency_saved"`
	HourlyRate       float64 `json:"hourly_rate"`
}

// MinutesPerExecution returns the static estimate for an automation.
func MinutesPerExecution(automationID string) int {
	if minutes, ok := minutesSaved[automationID]; ok {
		return minutes
	}

	return DefaultMinutesPerExecution
}

// Compute builds stats from executions. With no executions uptime is 100.
// Running executions count toward the total only.
func Compute(executions []*models.WorkflowExecution, automationID string, hourlyRate float64) WorkflowStats {
	stats := WorkflowStats{
		AutomationID: automationID,
		Total:        len(executions),
		HourlyRate:   hourlyRate,
	}

	var (
		durationSum   int64
		durationCount int
	)

	for _, execution := range executions {
		switch {
		case execution.Status == models.ExecutionStatusSuccess:
			stats.Successful++
		case execution.Status.IsFailure():
			stats.Failed++
		case execution.Status == models.ExecutionStatusRunning:
			stats.Running++
		}

		stats.ItemsProcessed += execution.ItemsProcessed

		if execution.DurationMs != nil {
			durationSum += *execution.DurationMs
			durationCount++
		}
	}

	if durationCount > 0 {
		stats.AvgDurationMs = round(float64(durationSum)/float64(durationCount), 1)
	}

	stats.UptimePercentage = 100
	if stats.Total > 0 {
		stats.UptimePercentage = round(float64(stats.Successful)/float64(stats.Total)*100, 2)
	}

	stats.HoursSaved = round(float64(stats.Successful*MinutesPerExecution(automationID))/60, 2)
	stats.CurrencySaved = round(stats.HoursSaved*hourlyRate, 2)

	return stats
}

func round(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))

	return math.Round(value*factor) / factor
}
