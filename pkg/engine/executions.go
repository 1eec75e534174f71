package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/provisioner/pkg/models"
)

// flexibleID accepts ids encoded as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleID(s)

		return nil
	}

	var n json.Number

	err := json.Unmarshal(data, &n)
	if err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}

	*f = flexibleID(n.String())

	return nil
}

type executionPayload struct {
	ID             flexibleID `json:"id"`
	WorkflowID     flexibleID `json:"workflowId"`
	Status         string     `json:"status"`
	Mode           string     `json:"mode"`
	StartedAt      time.Time  `json:"startedAt"`
	StoppedAt      *time.Time `json:"stoppedAt"`
	ItemsProcessed int        `json:"itemsProcessed"`
	ErrorMessage   string     `json:"errorMessage"`
}

// decodeExecutions accepts a bare array or an envelope with a data array.
func decodeExecutions(raw json.RawMessage, externalID string) ([]models.WorkflowExecution, error) {
	var payloads []executionPayload

	trimmed := bytes.TrimSpace(raw)

	switch {
	case len(trimmed) == 0:
		return []models.WorkflowExecution{}, nil
	case trimmed[0] == '[':
		err := json.Unmarshal(trimmed, &payloads)
		if err != nil {
			return nil, err
		}
	default:
		var envelope struct {
			Data []executionPayload `json:"data"`
		}

		err := json.Unmarshal(trimmed, &envelope)
		if err != nil {
			return nil, err
		}

		payloads = envelope.Data
	}

	executions := make([]models.WorkflowExecution, 0, len(payloads))

	for _, p := range payloads {
		if p.ID == "" {
			continue
		}

		execution := models.WorkflowExecution{
			ID:             string(p.ID),
			ExternalID:     string(p.WorkflowID),
			Status:         mapStatus(p.Status),
			StartedAt:      p.StartedAt,
			ItemsProcessed: p.ItemsProcessed,
			ErrorMessage:   p.ErrorMessage,
		}

		if execution.ExternalID == "" {
			execution.ExternalID = externalID
		}

		if p.Mode != "" {
			execution.Metadata = map[string]any{"mode": p.Mode}
		}

		if p.StoppedAt != nil && execution.Status != models.ExecutionStatusRunning {
			finishedAt := *p.StoppedAt
			duration := finishedAt.Sub(p.StartedAt).Milliseconds()
			execution.FinishedAt = &finishedAt
			execution.DurationMs = &duration
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func mapStatus(status string) models.ExecutionStatus {
	switch strings.ToLower(status) {
	case "success":
		return models.ExecutionStatusSuccess
	case "running", "new", "waiting":
		return models.ExecutionStatusRunning
	case "timeout":
		return models.ExecutionStatusTimeout
	default:
		return models.ExecutionStatusError
	}
}
