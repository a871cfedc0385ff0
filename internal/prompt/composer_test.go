package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digger/internal/types"
)

type stubLayers struct {
	layers   map[string]string
	solution string
}

func (s stubLayers) ActionLayers(action string) (map[string]string, error) {
	return s.layers, nil
}

func (s stubLayers) SolutionLayer(projectID, action string) (string, error) {
	return s.solution, nil
}

func TestComposeAllLayersInOrder(t *testing.T) {
	c := NewComposer(stubLayers{
		layers: map[string]string{
			types.LayerBase:     "base instructions",
			types.LayerDomain:   "domain notes",
			types.LayerOrg:      "org rules",
			types.LayerReasoner: "reasoner notes",
		},
		solution: "solution rules",
	}, t.TempDir())

	got, err := c.Compose("extract.strict", "p1", "", nil)
	require.NoError(t, err)

	sections := strings.Split(got, "\n\n")
	require.Len(t, sections, 5)
	assert.Equal(t, "base instructions", sections[0])
	assert.Equal(t, "### DOMAIN SPECIALIZED INSTRUCTIONS\ndomain notes", sections[1])
	assert.Equal(t, "### ORGANIZATIONAL GUIDELINES\norg rules", sections[2])
	assert.Equal(t, "### PROJECT-SPECIFIC RULES (SOLUTION LAYER)\nsolution rules", sections[3])
	assert.Equal(t, "### REASONING AGENT INSTRUCTIONS\nreasoner notes", sections[4])
}

func TestComposeSkipsSolutionWithoutProject(t *testing.T) {
	c := NewComposer(stubLayers{
		layers:   map[string]string{types.LayerBase: "base"},
		solution: "should not appear",
	}, t.TempDir())

	got, err := c.Compose("extract.strict", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "base", got)
}

func TestComposeFileFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "extract_deep_dive.md"), []byte("from the file"), 0644))

	c := NewComposer(stubLayers{}, dir)
	got, err := c.Compose("extract.deep_dive", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "from the file", got)
}

func TestComposeTxtFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "extract_python.txt"), []byte("txt variant"), 0644))

	c := NewComposer(stubLayers{}, dir)
	got, err := c.Compose("extract.python", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "txt variant", got)
}

func TestComposePromptFileOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "special.md"), []byte("special prompt"), 0644))

	c := NewComposer(stubLayers{}, dir)
	got, err := c.Compose("extract.strict", "", "special.md", nil)
	require.NoError(t, err)
	assert.Equal(t, "special prompt", got)
}

func TestInterpolateKeyExact(t *testing.T) {
	text := `Inventory:
{inventory_brief}
Respond as {"summary": "..."} with no other keys.`

	got := Interpolate(text, map[string]string{
		"inventory_brief": "TABLE: 4",
		"unused":          "never inserted",
	})

	assert.Contains(t, got, "TABLE: 4")
	// JSON braces in the template survive interpolation untouched.
	assert.Contains(t, got, `{"summary": "..."}`)
	assert.NotContains(t, got, "never inserted")
	assert.NotContains(t, got, "{inventory_brief}")
}
