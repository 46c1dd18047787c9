package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error reports every configuration problem found at once, so a user can
// fix their environment in a single pass.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// envNames maps struct namespaces to the variable a user sets to fix them.
var envNames = map[string]string{
	"Config.Search.APIKey":                 "TAVILY_SEARCH_KEY",
	"Config.Search.MaxResults":             "MAX_SEARCH_RESULTS",
	"Config.Timezone":                      "DEFAULT_TIMEZONE",
	"Config.Log.Level":                     "LOG_LEVEL",
	"Config.Orchestrator.MaxTurns":         "MAX_TURNS",
	"Config.Orchestrator.TerminationToken": "TERMINATION_TOKEN",
	"Config.Server.Port":                   "PORT",
	"Config.Model.Provider":                "MODEL_PROVIDER",
	"Config.Model.Temperature":             "OPENAI_TEMPERATURE",
}

var validate = validator.New()

// Validate checks the configuration and returns a *Error naming every
// missing credential or out-of-range value. It must run before any agent or
// tool is constructed.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, c.describe(fe))
		}
	}

	if c.Orchestrator.TerminationToken != "" && strings.TrimSpace(c.Orchestrator.TerminationToken) == "" {
		problems = append(problems, "TERMINATION_TOKEN must not be blank")
	}
	if c.Orchestrator.TurnTimeout.Duration <= 0 {
		problems = append(problems, "orchestrator.turn_timeout must be positive")
	}
	if c.Orchestrator.ToolTimeout.Duration <= 0 {
		problems = append(problems, "orchestrator.tool_timeout must be positive")
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

func (c *Config) describe(fe validator.FieldError) string {
	name := c.fieldName(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fmt.Sprint(fe.Value()))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "lt", "lte":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", name, fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
}

// fieldName resolves the environment variable for a field. Model keys
// depend on which provider the model entry selects.
func (c *Config) fieldName(ns string) string {
	if n, ok := envNames[ns]; ok {
		return n
	}
	switch ns {
	case "Config.Model.APIKey":
		return providerEnv(c.Model.Provider, "API_KEY")
	case "Config.Model.Name":
		return providerEnv(c.Model.Provider, "MODEL")
	}
	return strings.TrimPrefix(ns, "Config.")
}

func providerEnv(provider, suffix string) string {
	if provider == "anthropic" {
		return "ANTHROPIC_" + suffix
	}
	return "OPENAI_" + suffix
}
