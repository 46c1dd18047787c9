package command

import (
	"context"
	"fmt"
	"strings"
)

// ProviderSwitcher manages provider defaults and listing.
type ProviderSwitcher interface {
	SetDefault(providerID string)
	ListProviders() []ProviderInfo
}

// ProviderInfo holds basic provider info for command output.
type ProviderInfo struct {
	ID        string
	Name      string
	IsDefault bool
}

// RegisterProviderCommands registers /providers.
func RegisterProviderCommands(reg *Registry, switcher ProviderSwitcher) {
	reg.Register(&Command{
		Name:        "providers",
		Description: "List model providers or switch the default",
		Usage:       "/providers [provider_id]",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			providers := switcher.ListProviders()
			id := strings.TrimSpace(args)
			if id == "" {
				var sb strings.Builder
				sb.WriteString("Available providers:\n")
				for _, p := range providers {
					marker := "  "
					if p.IsDefault {
						marker = "* "
					}
					fmt.Fprintf(&sb, "%s%s (%s)\n", marker, p.Name, p.ID)
				}
				return &CommandResult{Content: sb.String(), Data: providers}, nil
			}

			for _, p := range providers {
				if p.ID == id {
					switcher.SetDefault(id)
					return &CommandResult{Content: fmt.Sprintf("Default provider switched to %q.", id)}, nil
				}
			}
			return &CommandResult{Content: fmt.Sprintf("Unknown provider %q.", id)}, nil
		},
	})
}
