// Package types holds the domain model shared across the discovery
// pipeline: extraction results, deep-dive lineage, plans, jobs, and the
// persisted catalog rows.
package types

import "time"

// Node and edge types surfaced by extractors and stored in the catalog.
const (
	NodeTypeTable      = "TABLE"
	NodeTypeView       = "VIEW"
	NodeTypeFile       = "FILE"
	NodeTypePipeline   = "PIPELINE"
	NodeTypePackage    = "PACKAGE"
	NodeTypeProcess    = "PROCESS"
	NodeTypeScript     = "SCRIPT"
	NodeTypeStoredProc = "STORED_PROCEDURE"
	NodeTypeUnknown    = "unknown"

	EdgeReadsFrom       = "READS_FROM"
	EdgeWritesTo        = "WRITES_TO"
	EdgeCreates         = "CREATES"
	EdgeDependsOn       = "DEPENDS_ON"
	EdgeContains        = "CONTAINS"
	EdgeDetailedLineage = "DETAILED_LINEAGE"
)

// Evidence kinds.
const (
	EvidenceCode    = "code"
	EvidenceXML     = "xml"
	EvidenceLog     = "log"
	EvidenceConfig  = "config"
	EvidenceRegex   = "regex_match"
	EvidenceSQLGlot = "sqlglot_parse"
)

// Locator pins an evidence snippet inside its source file.
type Locator struct {
	File      string `json:"file"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
	XPath     string `json:"xpath,omitempty"`
	ByteStart int    `json:"byte_start,omitempty"`
	ByteEnd   int    `json:"byte_end,omitempty"`
}

// Evidence is a supporting excerpt for one or more edges.
type Evidence struct {
	FilePath string  `json:"file_path"`
	Kind     string  `json:"kind"`
	Locator  Locator `json:"locator"`
	Snippet  string  `json:"snippet"`
	Hash     string  `json:"hash,omitempty"`
}

// ExtractedNode is a logical data object found in a file. NodeID is local
// to the extraction; Catalog Sync maps it to a persistent asset UUID.
type ExtractedNode struct {
	NodeID       string         `json:"node_id"`
	NodeType     string         `json:"node_type"`
	Name         string         `json:"name"`
	System       string         `json:"system"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	ParentNodeID string         `json:"parent_node_id,omitempty"`
}

// ExtractedEdge is a typed relationship between two local node IDs.
// EvidenceRefs index into the owning result's Evidences slice.
type ExtractedEdge struct {
	FromNodeID   string  `json:"from_node_id"`
	ToNodeID     string  `json:"to_node_id"`
	EdgeType     string  `json:"edge_type"`
	Confidence   float64 `json:"confidence"`
	IsHypothesis bool    `json:"is_hypothesis"`
	Rationale    string  `json:"rationale,omitempty"`
	EvidenceRefs []int   `json:"evidence_refs,omitempty"`
}

// ExtractionMeta identifies which extractor produced a result and from what.
type ExtractionMeta struct {
	ExtractorID string `json:"extractor_id"`
	SourceFile  string `json:"source_file"`
}

// ExtractionResult is the uniform output of every extractor, deterministic
// or LLM-backed.
type ExtractionResult struct {
	Meta        ExtractionMeta  `json:"meta"`
	Nodes       []ExtractedNode `json:"nodes"`
	Edges       []ExtractedEdge `json:"edges"`
	Evidences   []Evidence      `json:"evidences,omitempty"`
	Assumptions []string        `json:"assumptions,omitempty"`
}

// Asset is a persisted catalog node.
type Asset struct {
	ID            string
	ProjectID     string
	AssetType     string
	NameDisplay   string
	CanonicalName string
	System        string
	Tags          map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Edge is a persisted typed relationship between two assets.
type Edge struct {
	ID           string
	ProjectID    string
	FromAssetID  string
	ToAssetID    string
	EdgeType     string
	Confidence   float64
	IsHypothesis bool
	ExtractorID  string
	Rationale    string
}

// EvidenceRecord is a persisted evidence row.
type EvidenceRecord struct {
	ID        string
	ProjectID string
	FilePath  string
	Kind      string
	Locator   Locator
	Snippet   string
	Hash      string
}
