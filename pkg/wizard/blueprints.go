package wizard

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed blueprints.yaml
var defaultBlueprints []byte

// Question is one prompt of a blueprint. Key names the answer, both as the
// template placeholder {KEY} and as the .env variable.
type Question struct {
	Key    string `yaml:"key"`
	Prompt string `yaml:"prompt"`
}

// Blueprint describes how to install one MCP server.
type Blueprint struct {
	Template  map[string]any `yaml:"template"`
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Questions []Question     `yaml:"questions"`
}

// Blueprints indexes blueprints by id.
type Blueprints map[string]*Blueprint

// DefaultBlueprints returns the built-in supabase and github blueprints.
func DefaultBlueprints() Blueprints {
	b, err := parseBlueprints(defaultBlueprints)
	if err != nil {
		panic(fmt.Sprintf("built-in blueprints are invalid: %v", err))
	}
	return b
}

// LoadBlueprints returns the defaults overlaid with the blueprints in path.
// An empty path returns the defaults.
func LoadBlueprints(path string) (Blueprints, error) {
	all := DefaultBlueprints()
	if path == "" {
		return all, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blueprints: %w", err)
	}
	extra, err := parseBlueprints(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse blueprints %s: %w", path, err)
	}
	for id, b := range extra {
		all[id] = b
	}
	return all, nil
}

func parseBlueprints(data []byte) (Blueprints, error) {
	var list []*Blueprint
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	out := make(Blueprints, len(list))
	for _, b := range list {
		if b.ID == "" {
			return nil, fmt.Errorf("blueprint without id")
		}
		if len(b.Questions) == 0 {
			return nil, fmt.Errorf("blueprint %s has no questions", b.ID)
		}
		if b.Name == "" {
			b.Name = b.ID
		}
		out[b.ID] = b
	}
	return out, nil
}

// IDs returns the blueprint ids in sorted order.
func (b Blueprints) IDs() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Match finds the first blueprint id, in sorted order, mentioned in text.
func (b Blueprints) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, id := range b.IDs() {
		if strings.Contains(lower, strings.ToLower(id)) {
			return id, true
		}
	}
	return "", false
}

// render substitutes {KEY} placeholders in every string of the template.
func render(v any, answers map[string]string) any {
	switch t := v.(type) {
	case string:
		for k, val := range answers {
			t = strings.ReplaceAll(t, "{"+k+"}", val)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = render(val, answers)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = render(val, answers)
		}
		return out
	default:
		return v
	}
}
