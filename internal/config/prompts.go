package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

const defaultLanguage = "the requested language"

// PromptTemplates holds the fixed system messages layered on top of the
// generic completion call.
type PromptTemplates struct {
	Chat    string `yaml:"chat"`
	Code    string `yaml:"code"`
	Explain string `yaml:"explain"`
	Review  string `yaml:"review"`
}

// LoadPromptTemplates returns the embedded templates, overridden field by
// field by the YAML file at path when path is non-empty.
func LoadPromptTemplates(path string) (PromptTemplates, error) {
	var tpl PromptTemplates
	if err := yaml.Unmarshal(defaultPromptsYAML, &tpl); err != nil {
		return PromptTemplates{}, fmt.Errorf("op=config.LoadPromptTemplates: parse defaults: %w", err)
	}
	if path == "" {
		return tpl, nil
	}

	// #nosec G304 -- operator-supplied configuration file
	content, err := os.ReadFile(path)
	if err != nil {
		return PromptTemplates{}, fmt.Errorf("op=config.LoadPromptTemplates: read %s: %w", path, err)
	}
	var override PromptTemplates
	if err := yaml.Unmarshal(content, &override); err != nil {
		return PromptTemplates{}, fmt.Errorf("op=config.LoadPromptTemplates: failed to parse YAML: %w", err)
	}
	if override.Chat != "" {
		tpl.Chat = override.Chat
	}
	if override.Code != "" {
		tpl.Code = override.Code
	}
	if override.Explain != "" {
		tpl.Explain = override.Explain
	}
	if override.Review != "" {
		tpl.Review = override.Review
	}
	return tpl, nil
}

// Render substitutes {language} in a template.
func Render(template, language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		language = defaultLanguage
	}
	return strings.TrimSpace(strings.ReplaceAll(template, "{language}", language))
}
