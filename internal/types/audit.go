package types

import "time"

// File processing log statuses.
const (
	LogPending           = "pending"
	LogSuccess           = "success"
	LogFailed            = "failed"
	LogFallbackExhausted = "fallback_exhausted"
)

// Prompt layer scopes.
const (
	LayerBase     = "BASE"
	LayerDomain   = "DOMAIN"
	LayerOrg      = "ORG"
	LayerSolution = "SOLUTION"
	LayerReasoner = "REASONER"
)

// FileProcessingLog is one row per (job, file, action).
type FileProcessingLog struct {
	ID                 string
	JobID              string
	ProjectID          string
	FilePath           string
	ActionName         string
	StrategyUsed       string
	ModelProvider      string
	ModelUsed          string
	FallbackUsed       bool
	FallbackChain      []string
	Status             string
	TokensIn           int
	TokensOut          int
	CostEstimateUSD    float64
	LatencyMS          int64
	ErrorType          string
	ErrorMessage       string
	RetryCount         int
	NodesExtracted     int
	EdgesExtracted     int
	EvidencesExtracted int
	ResultHash         string
	CreatedAt          time.Time
}

// AuditMetrics is the computed coverage block of a snapshot.
type AuditMetrics struct {
	TotalAssets        int     `json:"total_assets"`
	TotalRelationships int     `json:"total_relationships"`
	CoverageScore      float64 `json:"coverage_score"`
	AvgConfidence      float64 `json:"avg_confidence"`
	HypothesisRatio    float64 `json:"hypothesis_ratio"`
}

// AuditGap describes a coverage hole found during the post-run audit.
type AuditGap struct {
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	AssetNames  []string `json:"asset_names,omitempty"`
	Count       int      `json:"count,omitempty"`
}

// AuditSnapshot is a point-in-time coverage report for a project.
type AuditSnapshot struct {
	ID              string       `json:"id"`
	ProjectID       string       `json:"project_id"`
	JobID           string       `json:"job_id,omitempty"`
	Metrics         AuditMetrics `json:"metrics"`
	Gaps            []AuditGap   `json:"gaps"`
	Recommendations []string     `json:"recommendations"`
	CreatedAt       time.Time    `json:"created_at"`
}

// PromptLayer is a named reusable prompt block.
type PromptLayer struct {
	ID        string
	Name      string
	LayerType string
	Content   string
}

// ReasoningLog is a persisted synthesis produced by the reasoning action.
type ReasoningLog struct {
	ID        string
	ProjectID string
	JobID     string
	Action    string
	Content   string
	CreatedAt time.Time
}
