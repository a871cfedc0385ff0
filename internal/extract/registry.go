// Package extract turns artifact files into uniform extraction results.
// Deterministic extractors cover SQL batches, SSIS packages, DataStage
// exports, dbt manifests, and regex scans of config files; everything else
// routes to a named LLM action handled by the runner.
package extract

import (
	"path/filepath"
	"strings"

	"digger/internal/types"
)

// DeepDiveMode says how a file's follow-up pass runs.
type DeepDiveMode int

const (
	DeepDiveNone DeepDiveMode = iota
	// DeepDiveDeterministic runs the SSIS XML walker.
	DeepDiveDeterministic
	// DeepDiveLLM runs the extract.deep_dive action.
	DeepDiveLLM
)

// Input is one file handed to an extractor.
type Input struct {
	// Path is relative to the artifact root.
	Path    string
	Content string
	// JobPrefix namespaces generated node IDs per job.
	JobPrefix string
	ProjectID string
}

// ExtractFunc is a deterministic extractor.
type ExtractFunc func(in Input) (*types.ExtractionResult, error)

// Route is the dispatch decision for one file.
type Route struct {
	ExtractorID   string
	Deterministic ExtractFunc
	// Action is the LLM action name when Deterministic is nil.
	Action string
	Vision bool
	// MIME is set for vision routes.
	MIME     string
	DeepDive DeepDiveMode
}

var imageMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ForFile dispatches by extension and content inspection.
func ForFile(path, content string) Route {
	ext := strings.ToLower(filepath.Ext(path))
	base := strings.ToLower(filepath.Base(path))

	if mime, ok := imageMIME[ext]; ok {
		return Route{ExtractorID: "vlm_diagram", Action: "extract.diagram", Vision: true, MIME: mime}
	}

	switch ext {
	case ".sql", ".ddl":
		return Route{ExtractorID: "sql_parser", Deterministic: ExtractSQL, DeepDive: DeepDiveLLM}
	case ".dtsx":
		return Route{ExtractorID: "ssis_xml", Deterministic: ExtractSSIS, DeepDive: DeepDiveDeterministic}
	case ".dsx":
		return Route{ExtractorID: "datastage", Deterministic: ExtractDataStage, DeepDive: DeepDiveLLM}
	case ".py", ".ipynb":
		return Route{ExtractorID: "llm_python", Action: "extract.python"}
	}

	if base == "manifest.json" && strings.Contains(content, "\"dbt_version\"") {
		return Route{ExtractorID: "dbt_manifest", Deterministic: ExtractDBTManifest}
	}

	switch ext {
	case ".xml", ".config", ".yaml", ".yml", ".env", ".ini":
		return Route{ExtractorID: "regex_scan", Deterministic: ExtractRegex}
	}

	return Route{ExtractorID: "llm_strict", Action: "extract.strict"}
}
