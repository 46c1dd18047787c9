// Package app assembles the assistant from a validated configuration. Both
// the terminal front end and the server build on it.
package app

import (
	"context"
	"fmt"

	"github.com/nidhogg/relay/internal/agent"
	"github.com/nidhogg/relay/internal/command"
	"github.com/nidhogg/relay/internal/config"
	"github.com/nidhogg/relay/internal/memory"
	"github.com/nidhogg/relay/internal/orchestrator"
	"github.com/nidhogg/relay/internal/provider"
	"github.com/nidhogg/relay/internal/router"
	pgstore "github.com/nidhogg/relay/internal/store"
	"github.com/nidhogg/relay/internal/tools"
	"go.uber.org/zap"
)

// App holds the long-lived components of a running assistant.
type App struct {
	Config       *config.Config
	Providers    *provider.Router
	Tools        *tools.Registry
	Pool         *agent.Pool
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *orchestrator.Scheduler
	Conversation *memory.Conversation
	Commands     *command.Registry
	Router       *router.MessageRouter

	bus    *orchestrator.EventBus
	store  memory.Store
	logger *zap.Logger
}

// Build constructs every component in dependency order: providers, tools
// and agents, the orchestrator, conversation memory, then the router. cfg
// must already be validated. out receives platform replies and may be nil.
func Build(ctx context.Context, cfg *config.Config, out router.Sender, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	providers, err := newProviders(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Providers = providers

	weather := tools.NewWeatherTools(
		tools.NewNominatimGeocoder(cfg.Weather.GeocodeURL, cfg.Weather.UserAgent, cfg.Weather.GeocodeRPS),
		tools.NewOpenMeteoClient(cfg.Weather.ForecastURL),
	)
	search := tools.NewSearchTools(
		tools.NewTavilyClient(cfg.Search.Endpoint, cfg.Search.APIKey),
		cfg.Search.MaxResults, cfg.Search.ResearchResults,
	)
	a.Tools = tools.NewRegistry(logger.With(zap.String("component", "commands")))
	for _, set := range [][]tools.Tool{weather.Tools(), search.Tools()} {
		for _, t := range set {
			a.Tools.Register(t)
		}
	}

	personas, err := agent.LoadCatalog(cfg.AgentsFile)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) > 0 {
		ids := fallbackIDs(cfg)
		for _, p := range personas {
			providers.SetFallbacks(p.Name, ids)
		}
		providers.SetFallbacks("", ids)
	}
	pool, err := agent.BuildPool(personas, agent.Deps{
		Models: providers,
		Tools:  agent.ToolFactories(weather.Tools(), search.Tools()),
		Options: agent.Options{
			Timezone:         agent.LocalTimezone(cfg.Timezone),
			TerminationToken: cfg.Orchestrator.TerminationToken,
			Temperature:      cfg.Model.Temperature,
			MaxTokens:        cfg.Model.MaxTokens,
			ToolTimeout:      cfg.Orchestrator.ToolTimeout.Duration,
			MaxToolRounds:    cfg.Orchestrator.MaxToolRounds,
			HistoryBudget:    cfg.Orchestrator.HistoryBudget,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build agents: %w", err)
	}
	a.Pool = pool

	orch, err := orchestrator.New(
		orchestrator.FromPool(pool),
		orchestrator.NewLLMSelector(providers, orchestrator.KeywordSelector{}, logger),
		orchestrator.Options{
			MaxTurns:         cfg.Orchestrator.MaxTurns,
			TerminationToken: cfg.Orchestrator.TerminationToken,
			TurnTimeout:      cfg.Orchestrator.TurnTimeout.Duration,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	a.Orchestrator = orch

	if url := cfg.Database.Redis.URL; url != "" {
		bus, err := orchestrator.NewEventBus(ctx, url, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without run events", zap.Error(err))
		} else {
			orch.Observe(bus)
			a.bus = bus
		}
	}
	a.Scheduler = orchestrator.NewScheduler(orch, cfg.Orchestrator.MaxConcurrentRuns, logger)

	a.store = a.openStore(ctx)
	a.Conversation = memory.NewConversation(a.store, logger)

	a.Commands = command.NewRegistry()
	command.RegisterBuiltins(a.Commands, command.AgentListerFunc(a.agentInfos))
	command.RegisterMemoryCommands(a.Commands, a.Conversation)
	command.RegisterProviderCommands(a.Commands, providerSwitcher{providers})
	command.RegisterToolCommands(a.Commands, a.Tools, tools.Describe)
	command.RegisterRunCommands(a.Commands, command.RunListerFunc(a.runInfos))

	a.Router = router.New(a.Scheduler, a.Conversation, a.Commands, out, logger)
	a.Router.SetContextMessages(cfg.Memory.ContextMessages)

	logger.Info("assistant ready",
		zap.Int("agents", pool.Len()),
		zap.String("provider", providers.DefaultID()),
		zap.Bool("persistent_memory", cfg.PersistenceEnabled()))
	return a, nil
}

// openStore connects to Postgres when configured. A database that cannot
// be reached degrades to in-process memory.
func (a *App) openStore(ctx context.Context) memory.Store {
	if !a.Config.PersistenceEnabled() {
		return memory.NewInMemory()
	}
	ps, err := pgstore.New(ctx, a.Config.Database.Postgres.DSN, a.logger)
	if err != nil {
		a.logger.Warn("PostgreSQL unavailable, conversation memory is not durable", zap.Error(err))
		return memory.NewInMemory()
	}
	if err := ps.Migrate(ctx); err != nil {
		a.logger.Warn("migration failed, conversation memory is not durable", zap.Error(err))
		ps.Close()
		return memory.NewInMemory()
	}
	return ps
}

// Bus returns the run event bus, or nil when Redis is not configured.
func (a *App) Bus() *orchestrator.EventBus { return a.bus }

func (a *App) agentInfos() []command.AgentInfo {
	agents := a.Pool.Agents()
	out := make([]command.AgentInfo, len(agents))
	for i, ag := range agents {
		out[i] = command.AgentInfo{Name: ag.Name(), Description: ag.Description(), Tools: ag.Tools()}
	}
	return out
}

// Agents lists the team for commands and the API.
func (a *App) Agents() command.AgentLister { return command.AgentListerFunc(a.agentInfos) }

func (a *App) runInfos() []command.RunInfo {
	tasks := a.Scheduler.Running()
	out := make([]command.RunInfo, len(tasks))
	for i, t := range tasks {
		started := t.CreatedAt
		if t.StartedAt != nil {
			started = *t.StartedAt
		}
		out[i] = command.RunInfo{
			ID:        t.ID,
			SessionID: t.SessionID,
			Input:     router.UserInput(t.Input),
			Started:   started,
		}
	}
	return out
}

// Runs lists the runs in progress.
func (a *App) Runs() command.RunLister { return command.RunListerFunc(a.runInfos) }

// Close releases the database pool and the event bus.
func (a *App) Close() error {
	var firstErr error
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type providerSwitcher struct {
	r *provider.Router
}

func (s providerSwitcher) SetDefault(id string) { s.r.SetDefault(id) }

func (s providerSwitcher) ListProviders() []command.ProviderInfo {
	def := s.r.DefaultID()
	var out []command.ProviderInfo
	for _, p := range s.r.ListProviders() {
		out = append(out, command.ProviderInfo{ID: p.ID(), Name: p.Name(), IsDefault: p.ID() == def})
	}
	return out
}
