// Package health grades instances from their execution history and rolls the
// grades up into a fleet summary.
package health

import (
	"sort"

	"github.com/dukex/provisioner/pkg/models"
)

// RecentWindow is the number of newest executions a grade is based on.
const RecentWindow = 5

// Summary counts instances per grade. Overall is pessimistic: one failing or
// offline instance marks the whole fleet failing.
type Summary struct {
	Overall  models.HealthGrade `json:"overall"`
	Total    int                `json:"total"`
	Healthy  int                `json:"healthy"`
	Degraded int                `json:"degraded"`
	Failing  int                `json:"failing"`
	Offline  int                `json:"offline"`
	Unknown  int                `json:"unknown"`
}

// Aggregate rolls instance grades into a Summary. An empty fleet, or one where
// every instance is unknown, is unknown. Healthy mixed with unknown is healthy.
func Aggregate(instances []*models.WorkflowInstance) Summary {
	grades := make([]models.HealthGrade, 0, len(instances))
	for _, instance := range instances {
		grades = append(grades, instance.Health)
	}

	return AggregateGrades(grades)
}

// AggregateGrades is Aggregate over bare grades.
func AggregateGrades(grades []models.HealthGrade) Summary {
	summary := Summary{Total: len(grades)}

	for _, grade := range grades {
		switch grade {
		case models.HealthHealthy:
			summary.Healthy++
		case models.HealthDegraded:
			summary.Degraded++
		case models.HealthFailing:
			summary.Failing++
		case models.HealthOffline:
			summary.Offline++
		default:
			summary.Unknown++
		}
	}

	switch {
	case summary.Failing > 0 || summary.Offline > 0:
		summary.Overall = models.HealthFailing
	case summary.Degraded > 0:
		summary.Overall = models.HealthDegraded
	case summary.Unknown == summary.Total:
		summary.Overall = models.HealthUnknown
	default:
		summary.Overall = models.HealthHealthy
	}

	return summary
}

// GradeExecutions grades an active instance by the failures among its newest
// RecentWindow executions. No executions yet grades healthy.
func GradeExecutions(executions []models.WorkflowExecution) models.HealthGrade {
	recent := make([]models.WorkflowExecution, len(executions))
	copy(recent, executions)

	sort.SliceStable(recent, func(i, j int) bool { return recent[i].StartedAt.After(recent[j].StartedAt) })

	if len(recent) > RecentWindow {
		recent = recent[:RecentWindow]
	}

	failures := 0

	for _, execution := range recent {
		if execution.Status.IsFailure() {
			failures++
		}
	}

	switch {
	case failures == 0:
		return models.HealthHealthy
	case failures <= 2:
		return models.HealthDegraded
	default:
		return models.HealthFailing
	}
}
