package models

// EvalPayload is the POST /evaluations body.
// Optional fields are pointers so "absent" stays distinguishable from zero.
type EvalPayload struct {
	InteractionID     string   `json:"interaction_id"`
	Prompt            string   `json:"prompt"`
	Response          string   `json:"response"`
	Score             *float64 `json:"score,omitempty"`
	LatencyMS         int64    `json:"latency_ms"`
	Flags             []string `json:"flags,omitempty"`
	PIITokensRedacted *int     `json:"pii_tokens_redacted,omitempty"`
}

// EvalIngestResponse is returned with 201 when an evaluation is accepted.
type EvalIngestResponse struct {
	Success    bool             `json:"success"`
	Evaluation EvaluationRecord `json:"evaluation"`
}

// EvalSkippedResponse is returned with 200 when sampling drops the request.
type EvalSkippedResponse struct {
	Message string `json:"message"`
}

// QuotaUsage summarises today's consumption for the stats endpoint.
type QuotaUsage struct {
	Used      int64 `json:"used"`
	Limit     int   `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// EvalStatsResponse is returned by GET /evaluations/stats.
type EvalStatsResponse struct {
	Count int64       `json:"count"`
	From  string      `json:"from"`
	To    string      `json:"to"`
	Quota *QuotaUsage `json:"quota,omitempty"`
}
