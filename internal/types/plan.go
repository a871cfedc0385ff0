package types

// Plan statuses.
const (
	PlanDraft      = "draft"
	PlanReady      = "ready"
	PlanApproved   = "approved"
	PlanRejected   = "rejected"
	PlanSuperseded = "superseded"
)

// Plan modes.
const (
	ModeLowCost  = "low_cost"
	ModeDeepScan = "deep_scan"
	ModeStandard = "standard"
)

// Execution strategies per plan item.
const (
	StrategyParserOnly    = "PARSER_ONLY"
	StrategyParserPlusLLM = "PARSER_PLUS_LLM"
	StrategyLLMOnly       = "LLM_ONLY"
	StrategyVLMExtract    = "VLM_EXTRACT"
	StrategySkip          = "SKIP"
)

// Policy recommendations per file.
const (
	ActionProcess = "PROCESS"
	ActionSkip    = "SKIP"
	ActionReview  = "REVIEW"
)

// Plan areas, in execution order.
const (
	AreaFoundation = "FOUNDATION"
	AreaPackages   = "PACKAGES"
	AreaDocs       = "DOCS"
	AreaAux        = "AUX"
)

// Plan item statuses.
const (
	ItemPending   = "pending"
	ItemRunning   = "running"
	ItemCompleted = "completed"
	ItemFailed    = "failed"
)

// Estimate is the projected cost of processing one plan item.
type Estimate struct {
	Tokens      int64   `json:"tokens"`
	CostUSD     float64 `json:"cost_usd"`
	TimeSeconds float64 `json:"time_seconds"`
}

// PlanItem is one file scheduled inside a plan area.
type PlanItem struct {
	ID                string   `json:"id"`
	AreaID            string   `json:"area_id"`
	Path              string   `json:"path"`
	FileHash          string   `json:"file_hash"`
	SizeBytes         int64    `json:"size_bytes"`
	FileType          string   `json:"file_type"`
	Classifier        string   `json:"classifier"`
	Strategy          string   `json:"strategy"`
	RecommendedAction string   `json:"recommended_action"`
	Reason            string   `json:"reason,omitempty"`
	Enabled           bool     `json:"enabled"`
	OrderIndex        int      `json:"order_index"`
	Estimate          Estimate `json:"estimate"`
	Status            string   `json:"status"`
}

// PlanArea groups plan items by discovery phase.
type PlanArea struct {
	ID         string     `json:"id"`
	PlanID     string     `json:"plan_id"`
	Name       string     `json:"name"`
	Title      string     `json:"title"`
	OrderIndex int        `json:"order_index"`
	Items      []PlanItem `json:"items"`
}

// PlanSummary aggregates plan-wide estimates.
type PlanSummary struct {
	TotalFiles   int     `json:"total_files"`
	TotalCostEst float64 `json:"total_cost_est"`
	TotalTimeEst float64 `json:"total_time_est"`
}

// Plan is the human-approvable execution intent for one job.
type Plan struct {
	ID      string      `json:"id"`
	JobID   string      `json:"job_id"`
	Status  string      `json:"status"`
	Mode    string      `json:"mode"`
	Summary PlanSummary `json:"summary"`
	Areas   []PlanArea  `json:"areas"`
}
