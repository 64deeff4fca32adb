package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

func TestBuilder_BuildPrompt(t *testing.T) {
	b := NewBuilder()
	prompt := b.BuildPrompt("find the post button", map[string]any{
		"buttons": []string{"Post", "Cancel"},
	})

	assert.Contains(t, prompt, "Goal: find the post button")
	assert.Contains(t, prompt, "Known page structure:")
	assert.Contains(t, prompt, `"Post"`)
	assert.Contains(t, prompt, `"confidence"`)
}

func TestBuilder_BuildPrompt_NoStructure(t *testing.T) {
	prompt := NewBuilder().BuildPrompt("find the post button", nil)
	assert.NotContains(t, prompt, "Known page structure")
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

func TestParser_Parse_DirectJSON(t *testing.T) {
	data, err := NewParser().Parse(`{"element": "button#post", "confidence": 0.9}`)
	require.NoError(t, err)
	assert.Equal(t, "button#post", data["element"])
	assert.Equal(t, 0.9, data["confidence"])
}

func TestParser_Parse_MarkdownFence(t *testing.T) {
	text := "Here is my analysis:\n```json\n{\"element\": \"button#post\", \"action\": \"click\"}\n```\nDone."
	data, err := NewParser().Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "click", data["action"])
}

func TestParser_Parse_EmbeddedObject(t *testing.T) {
	text := `The target is {"element": "div.compose", "confidence": 0.75} as requested.`
	data, err := NewParser().Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "div.compose", data["element"])
}

func TestParser_Parse_NoJSON(t *testing.T) {
	_, err := NewParser().Parse("I could not find anything useful on this page.")
	require.Error(t, err)
}

func TestParser_Parse_MalformedJSON(t *testing.T) {
	_, err := NewParser().Parse(`{"element": "button#post", "confidence":}`)
	require.Error(t, err)
}
