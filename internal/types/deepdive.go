package types

// Component types inside an ETL package.
const (
	ComponentSource    = "SOURCE"
	ComponentSink      = "SINK"
	ComponentTransform = "TRANSFORM"
	ComponentContainer = "CONTAINER"
)

// Transformation operations recognised in TransformationIR rows.
const (
	OpRead      = "READ"
	OpWrite     = "WRITE"
	OpSelect    = "SELECT"
	OpFilter    = "FILTER"
	OpJoin      = "JOIN"
	OpAggregate = "AGGREGATE"
	OpLookup    = "LOOKUP"
	OpDerive    = "DERIVE"
	OpSCD       = "SCD"
	OpSQLQuery  = "SQL_QUERY"
)

// Package is an ETL unit (a DTSX package, a DataStage job, a complex SQL
// script) discovered by a deep-dive pass.
type Package struct {
	PackageID   string `json:"package_id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	PackageType string `json:"package_type"`
	FilePath    string `json:"file_path"`
	Description string `json:"description,omitempty"`
}

// PackageComponent is one stage inside a package data flow.
type PackageComponent struct {
	ComponentID string         `json:"component_id"`
	PackageID   string         `json:"package_id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	OrderIndex  int            `json:"order_index"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// TransformationIR captures one operation a component performs.
type TransformationIR struct {
	ID                string `json:"id"`
	ComponentID       string `json:"component_id"`
	SourceComponentID string `json:"source_component_id,omitempty"`
	Operation         string `json:"operation"`
	Expression        string `json:"expression,omitempty"`
}

// ColumnLineage records column-level flow between two assets. Source and
// target references may be asset UUIDs, component IDs, node IDs from the
// macro pass, or plain names; the catalog resolver maps them.
type ColumnLineage struct {
	ID                 string  `json:"id,omitempty"`
	SourceAssetRef     string  `json:"source_asset_id,omitempty"`
	SourceColumn       string  `json:"source_column"`
	TargetAssetRef     string  `json:"target_asset_id,omitempty"`
	TargetColumn       string  `json:"target_column"`
	TransformationRule string  `json:"transformation_rule,omitempty"`
	Confidence         float64 `json:"confidence"`
}

// DeepDiveResult is the output of a deep-dive extraction over one file.
type DeepDiveResult struct {
	Package         *Package           `json:"package,omitempty"`
	Components      []PackageComponent `json:"components,omitempty"`
	Transformations []TransformationIR `json:"transformations,omitempty"`
	Lineage         []ColumnLineage    `json:"column_lineage,omitempty"`
}
