package inference

import (
	"bytes"
	"encoding/json"
	"strings"

	"jan-server/services/research-api/internal/domain/job"
)

type submitRequest struct {
	Query string `json:"query"`
	Model string `json:"model"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type statusPayload struct {
	Status   string          `json:"status"`
	StepInfo json.RawMessage `json:"step_info"`
	Result   json.RawMessage `json:"result"`
	Error    json.RawMessage `json:"error"`
}

type resultPayload struct {
	Result          string            `json:"result"`
	AnalysisHistory []json.RawMessage `json:"analysis_history"`
}

// parseReport decodes a status body once. Only a body that is not a JSON object is rejected;
// unexpected shapes inside optional fields are ignored.
func parseReport(jobID string, body []byte) (job.Report, error) {
	var payload statusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return job.Report{}, err
	}

	report := job.Report{
		JobID:  jobID,
		Status: job.ParseStatus(payload.Status),
		Error:  rawText(payload.Error),
	}

	if len(payload.StepInfo) > 0 {
		var step job.Step
		if err := json.Unmarshal(payload.StepInfo, &step); err == nil && (step.Message != "" || step.Title != "") {
			report.Step = &step
		}
	}

	if len(payload.Result) > 0 {
		var result resultPayload
		if err := json.Unmarshal(payload.Result, &result); err == nil {
			report.Result = result.Result
			report.History = historyLines(result.AnalysisHistory)
		} else {
			report.Result = rawText(payload.Result)
		}
	}

	return report, nil
}

// rawText returns a JSON string value unquoted, null as empty, and anything else as compact JSON.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func historyLines(entries []json.RawMessage) []string {
	if len(entries) == 0 {
		return nil
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		if line := strings.TrimSpace(rawText(entry)); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
