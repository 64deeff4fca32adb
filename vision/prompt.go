// Package vision provides the prompt builder and response parser used by
// vision analysis requests.
package vision

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Builder renders the analysis prompt sent to the vision backend.
// The model is asked to answer with a single JSON object so the
// parser can recover structured data.
type Builder struct{}

// NewBuilder creates a prompt builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildPrompt composes the vision prompt from the analysis goal and an
// optional page structure description.
func (b *Builder) BuildPrompt(goal string, pageStructure map[string]any) string {
	var sb strings.Builder

	sb.WriteString(`You are a browser automation assistant analyzing a page screenshot.

Goal: `)
	sb.WriteString(goal)
	sb.WriteString("\n")

	if len(pageStructure) > 0 {
		encoded, err := json.Marshal(pageStructure)
		if err == nil {
			sb.WriteString("\nKnown page structure:\n")
			sb.Write(encoded)
			sb.WriteString("\n")
		}
	}

	sb.WriteString(`
Respond with a single JSON object and nothing else:
{
  "element": "<selector or description of the target element>",
  "action": "<click|type|scroll|none>",
  "confidence": <0.0-1.0>,
  "reasoning": "<one short sentence>"
}`)

	return sb.String()
}

// Parser recovers a JSON object from raw model output. Models often wrap
// the object in prose or a markdown code fence.
type Parser struct{}

// NewParser creates a response parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse extracts and decodes the first JSON object found in text.
// It tries: 1) direct parse, 2) extract ```json block, 3) outermost braces.
func (p *Parser) Parse(text string) (map[string]any, error) {
	candidates := []string{strings.TrimSpace(text)}

	if idx := strings.Index(text, "```json"); idx != -1 {
		start := idx + len("```json")
		if end := strings.Index(text[start:], "```"); end != -1 {
			candidates = append(candidates, strings.TrimSpace(text[start:start+end]))
		}
	}
	candidates = append(candidates, extractJSONObject(text))

	var lastErr error
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(candidate), &data); err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no JSON object found")
	}
	return nil, fmt.Errorf("parse vision response: %w", lastErr)
}

func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}
