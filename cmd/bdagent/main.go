package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bdagent/internal/agent"
	"bdagent/internal/channel"
	"bdagent/internal/config"
	"bdagent/internal/dataset"
	"bdagent/internal/domain"
	"bdagent/internal/journal"
	"bdagent/internal/metrics"
	"bdagent/internal/provider"
	"bdagent/internal/tool"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	logLevel   = new(slog.LevelVar)
	configPath string // overridable via --config flag
	levelFlag  string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	root := &cobra.Command{
		Use:   "bdagent",
		Short: "Bangladesh AI agent: answers questions from local datasets and the web",
		Long: `bdagent answers questions about Bangladeshi institutions, hospitals and
restaurants by querying local tables, and falls back to web search for
everything else. Run without a subcommand to start an interactive chat.`,
		SilenceUsage: true,
		RunE:         runChat,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.bdagent/config.json)")
	root.PersistentFlags().StringVar(&levelFlag, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	root.AddCommand(chatCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads .env and the config file, then applies the log level.
// A missing config file is not an error.
func loadConfig() (*config.Config, error) {
	envPath, err := config.LoadEnvFile()
	if err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfgPath := resolveConfigPath()
	cfg, found, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	level := cfg.General.LogLevel
	if levelFlag != "" {
		level = levelFlag
	}
	logLevel.Set(parseLevel(level))

	if envPath != "" {
		logger.Debug("loaded environment file", "path", envPath)
	}
	logger.Debug("config", "path", cfgPath, "loaded", found)
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (default)",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := provider.NewFactory(cfg, logger)
	prov, err := factory.DefaultProvider()
	if err != nil {
		return fmt.Errorf("language model: %w", err)
	}
	model := factory.Model("")

	toolReg, stores := registerTools(ctx, cfg, prov, model)
	defer closeStores(stores)
	metrics.Default.SetActiveDatasets(len(stores))

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.Default, cfg.Metrics.Addr, cfg.Metrics.Path, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	var sessionJournal agent.Journal
	var journalStore *journal.Store
	if cfg.Journal.Enabled {
		journalStore, err = journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			logger.Warn("journal disabled", "path", cfg.Journal.DBPath, "err", err)
		} else {
			defer journalStore.Close()
			sessionJournal = journalStore
		}
	}

	promptBuilder := agent.NewPromptBuilder(agent.PromptConfig{
		Extra: cfg.General.SystemPromptExtra,
		Tools: toolReg.List(),
	})

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:         prov,
		Tools:            toolReg,
		Prompt:           promptBuilder,
		Logger:           logger,
		Model:            model,
		MaxIterations:    cfg.General.MaxIterations,
		MaxContextTokens: cfg.General.MaxContextTokens,
		RateLimiter:      agent.NewRateLimiter(0, cfg.General.RatePerMinute),
		TokenCounter:     agent.NewTokenCounter(logger),
		Journal:          sessionJournal,
	})
	session := loop.NewSession()

	if journalStore != nil {
		defer func() {
			if id := session.ID(); id != "" {
				endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := journalStore.EndSession(endCtx, id); err != nil {
					logger.Warn("journal end session failed", "session", id, "err", err)
				}
			}
		}()
	}

	cli := channel.NewCLI(channel.CLIConfig{
		Session: session,
		Logger:  logger,
		Spinner: isatty.IsTerminal(os.Stdout.Fd()),
	})
	err = cli.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools opens every configured dataset and registers one query tool
// per table, then the web search tool. A dataset that cannot be opened is
// skipped with a warning. The returned registry is sealed.
func registerTools(ctx context.Context, cfg *config.Config, prov domain.Provider, model string) (*tool.Registry, []*dataset.Store) {
	toolReg := tool.NewRegistry(logger)

	descs, err := dataset.Descriptors(cfg.Datasets)
	if err != nil {
		logger.Warn("dataset catalog unusable, no table tools registered", "err", err)
	}

	var stores []*dataset.Store
	for _, d := range descs {
		store, err := dataset.Open(ctx, d, logger)
		if err != nil {
			logger.Warn("dataset unavailable, tool not registered", "tool", d.ToolName(), "err", err)
			continue
		}
		if err := toolReg.Register(tool.NewQueryTool(tool.QueryConfig{
			Store:    store,
			Provider: prov,
			Model:    model,
			Logger:   logger,
		})); err != nil {
			logger.Warn("tool not registered", "tool", d.ToolName(), "err", err)
			store.Close()
			continue
		}
		stores = append(stores, store)
	}

	backend := tool.NewSearchBackend(
		cfg.Search.Provider,
		cfg.Search.APIKey,
		cfg.Search.EngineID,
		time.Duration(cfg.Search.TimeoutSeconds)*time.Second,
		cfg.Search.MaxResults,
	)
	if err := toolReg.Register(tool.NewWebSearchTool(backend)); err != nil {
		logger.Warn("tool not registered", "tool", "web_search", "err", err)
	}

	toolReg.Seal()
	logger.Info("tools ready", "tools", strings.Join(toolReg.Names(), ","))
	return toolReg, stores
}

func closeStores(stores []*dataset.Store) {
	for _, s := range stores {
		if err := s.Close(); err != nil {
			logger.Warn("close dataset", "table", s.Descriptor().Table, "err", err)
		}
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the agent can call",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			descs, err := dataset.Descriptors(cfg.Datasets)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range descs {
				status := "ready"
				if store, err := dataset.Open(cmd.Context(), d, logger); err != nil {
					status = "unavailable: " + err.Error()
				} else {
					store.Close()
				}
				fmt.Fprintf(out, "%-20s %s [%s]\n", d.ToolName(), d.Description, status)
			}
			search := cfg.Search.Provider
			if search == "" {
				search = "duckduckgo"
			}
			fmt.Fprintf(out, "%-20s %s [%s]\n", "web_search", tool.NewWebSearchTool(nil).Description(), search)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and initialize configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.AddCommand(initCmd)

	return cmd
}
