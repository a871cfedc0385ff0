package planner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"digger/internal/types"
)

// maxProcessableSize marks larger files for human review.
const maxProcessableSize = 5 * 1024 * 1024

// Glob patterns skipped outright. Paths are matched slash-separated,
// relative to the artifact root.
var skipPatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/vendor/**",
	"**/bin/**",
	"**/obj/**",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/poetry.lock",
	"**/go.sum",
	"**/*.dll",
	"**/*.exe",
	"**/*.so",
	"**/*.zip",
	"**/*.tar.gz",
	"**/*.parquet",
	"**/*.pyc",
	"**/test_data/**",
	"**/testdata/**",
	"**/fixtures/**",
}

// Extensions the pipeline must always attempt, regardless of other rules.
var alwaysProcess = map[string]bool{
	".sql":  true,
	".dtsx": true,
	".dsx":  true,
}

// Decide returns the policy action for one file. relPath is
// slash-separated and relative to the artifact root.
func Decide(relPath string, size int64) (action, reason string) {
	ext := strings.ToLower(filepath.Ext(relPath))
	if alwaysProcess[ext] {
		return types.ActionProcess, ""
	}

	for _, pattern := range skipPatterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return types.ActionSkip, fmt.Sprintf("Matches skip pattern %q", pattern)
		}
	}

	if size > maxProcessableSize {
		return types.ActionReview, fmt.Sprintf("File is %d bytes, above the %d byte limit", size, maxProcessableSize)
	}
	if size == 0 {
		return types.ActionSkip, "Empty file"
	}

	return types.ActionProcess, ""
}
