// Package prompt composes layered system prompts for LLM actions. Layers
// live in the store (BASE, DOMAIN, ORG, SOLUTION, REASONER); when no layers
// are configured the composer falls back to static files under prompts/.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"digger/internal/logging"
	"digger/internal/types"
)

// Section headers for the non-base layers. The base layer is emitted bare.
const (
	headerDomain   = "### DOMAIN SPECIALIZED INSTRUCTIONS"
	headerOrg      = "### ORGANIZATIONAL GUIDELINES"
	headerSolution = "### PROJECT-SPECIFIC RULES (SOLUTION LAYER)"
	headerReasoner = "### REASONING AGENT INSTRUCTIONS"
)

// LayerSource resolves prompt layers for actions. *store.Store implements it.
type LayerSource interface {
	ActionLayers(action string) (map[string]string, error)
	SolutionLayer(projectID, action string) (string, error)
}

// Composer assembles the system prompt for an action, layering database
// configuration over file-based defaults.
type Composer struct {
	layers     LayerSource
	promptsDir string
}

// NewComposer creates a composer reading file fallbacks from promptsDir.
func NewComposer(layers LayerSource, promptsDir string) *Composer {
	return &Composer{layers: layers, promptsDir: promptsDir}
}

// Compose builds the system prompt for an action. Database layers are
// stacked BASE, DOMAIN, ORG, SOLUTION, REASONER; when no base layer is
// configured the file fallback supplies it. promptFile, when non-empty,
// overrides the default file name. vars are interpolated into {key}
// placeholders that literally appear in the text.
func (c *Composer) Compose(action, projectID, promptFile string, vars map[string]string) (string, error) {
	layers, err := c.layers.ActionLayers(action)
	if err != nil {
		return "", err
	}

	base := layers[types.LayerBase]
	if base == "" {
		base, err = c.fileFallback(action, promptFile)
		if err != nil {
			return "", err
		}
	}

	sections := []string{base}
	if v := layers[types.LayerDomain]; v != "" {
		sections = append(sections, headerDomain+"\n"+v)
	}
	if v := layers[types.LayerOrg]; v != "" {
		sections = append(sections, headerOrg+"\n"+v)
	}
	if projectID != "" {
		sol, err := c.layers.SolutionLayer(projectID, action)
		if err != nil {
			return "", err
		}
		if sol != "" {
			sections = append(sections, headerSolution+"\n"+sol)
		}
	}
	if v := layers[types.LayerReasoner]; v != "" {
		sections = append(sections, headerReasoner+"\n"+v)
	}

	return Interpolate(strings.Join(sections, "\n\n"), vars), nil
}

// fileFallback reads prompts/{name}.md (or .txt), where name is the action
// with dots replaced by underscores, unless promptFile names a file directly.
func (c *Composer) fileFallback(action, promptFile string) (string, error) {
	names := []string{
		strings.ReplaceAll(action, ".", "_") + ".md",
		strings.ReplaceAll(action, ".", "_") + ".txt",
	}
	if promptFile != "" {
		names = []string{filepath.Base(promptFile)}
	}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(c.promptsDir, name))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read prompt file %s: %w", name, err)
		}
	}
	logging.L(logging.CategoryLLM).Warnw("no prompt found for action, using generic", "action", action)
	return "You are a precise data discovery assistant. Respond with valid JSON only.", nil
}

// Interpolate substitutes {key} placeholders that are literally present in
// the text. Keys absent from the text are ignored; placeholders without a
// matching key are left intact.
func Interpolate(text string, vars map[string]string) string {
	for key, val := range vars {
		placeholder := "{" + key + "}"
		if strings.Contains(text, placeholder) {
			text = strings.ReplaceAll(text, placeholder, val)
		}
	}
	return text
}
