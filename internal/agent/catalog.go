package agent

import (
	"fmt"
	"os"

	"github.com/nidhogg/relay/internal/tools"
	"gopkg.in/yaml.v3"
)

const (
	WeatherAssistant = "WeatherAssistant"
	SearchAssistant  = "SearchAssistant"
)

// BuiltinPersonas returns the default agent roster.
func BuiltinPersonas() []Persona {
	return []Persona{
		{
			Name: WeatherAssistant,
			Description: "An AI assistant that provides weather information. " +
				"Answers questions about current weather, forecasts, and precipitation. " +
				"Use me for queries like 'weather in Mumbai' or 'will it rain tomorrow?'",
			SystemPrompt: "You are a weather information assistant.\n" +
				"Use the available tools to provide accurate weather data and forecasts.\n" +
				"Always include temperature, conditions, and relevant precipitation info.\n" +
				"Current timezone: " + timezonePlaceholder + "\n" +
				"Be concise and user-friendly in your responses.\n" +
				"When your answer is complete, end it with " + terminationPlaceholder + ".",
			Tools: []string{tools.ToolCurrentWeather, tools.ToolForecast},
		},
		{
			Name: SearchAssistant,
			Description: "An AI assistant that performs web searches and research. " +
				"Use me for finding current information, news, facts, or detailed research. " +
				"I can do quick searches or comprehensive deep dives.",
			SystemPrompt: "You are a web search and research assistant.\n" +
				"Use web_search for quick queries and research for in-depth information.\n" +
				"Always cite sources and provide comprehensive, accurate information.\n" +
				"Current timezone: " + timezonePlaceholder + "\n" +
				"Be thorough but concise in your responses.\n" +
				"When your answer is complete, end it with " + terminationPlaceholder + ".",
			Tools: []string{tools.ToolWebSearch, tools.ToolResearch},
		},
	}
}

type catalogFile struct {
	Agents []Persona `yaml:"agents"`
}

// LoadCatalog returns the built-in personas merged with those in path.
// Entries override built-ins by name; disabled entries remove them. An
// empty path yields the built-ins.
func LoadCatalog(path string) ([]Persona, error) {
	personas := BuiltinPersonas()
	if path == "" {
		return personas, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse agent catalog %s: %w", path, err)
	}

	for i, p := range file.Agents {
		if p.Name == "" {
			return nil, fmt.Errorf("agent catalog %s: entry %d has no name", path, i)
		}
		personas = merge(personas, p)
	}
	return personas, nil
}

func merge(personas []Persona, p Persona) []Persona {
	for i := range personas {
		if personas[i].Name != p.Name {
			continue
		}
		if p.Disabled {
			return append(personas[:i], personas[i+1:]...)
		}
		personas[i] = overlay(personas[i], p)
		return personas
	}
	if p.Disabled {
		return personas
	}
	return append(personas, p)
}

// overlay applies the non-empty fields of o to base.
func overlay(base, o Persona) Persona {
	if o.Description != "" {
		base.Description = o.Description
	}
	if o.SystemPrompt != "" {
		base.SystemPrompt = o.SystemPrompt
	}
	if o.Tools != nil {
		base.Tools = o.Tools
	}
	if o.Model != "" {
		base.Model = o.Model
	}
	return base
}
