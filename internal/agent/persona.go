package agent

import "strings"

// Placeholders substituted into system prompts at construction.
const (
	timezonePlaceholder    = "{{timezone}}"
	terminationPlaceholder = "{{termination}}"
)

// Persona defines an agent's identity and the tools it may call.
type Persona struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt"`
	Tools        []string `yaml:"tools" json:"tools"`
	// Model overrides the provider's default model for this agent.
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Prompt renders the system prompt for the given timezone and termination
// token. Prompts without the timezone placeholder get the timezone appended.
func (p Persona) Prompt(timezone, token string) string {
	prompt := p.SystemPrompt
	if strings.Contains(prompt, timezonePlaceholder) {
		prompt = strings.ReplaceAll(prompt, timezonePlaceholder, timezone)
	} else {
		prompt = strings.TrimRight(prompt, "\n")
		if prompt != "" {
			prompt += "\n"
		}
		prompt += "Current timezone: " + timezone
	}
	return strings.ReplaceAll(prompt, terminationPlaceholder, token)
}
