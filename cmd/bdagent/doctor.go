package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"bdagent/internal/config"
	"bdagent/internal/dataset"
	"bdagent/internal/provider"

	"github.com/spf13/cobra"
)

// checkReport tallies doctor results.
type checkReport struct {
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	fmt.Printf("  [PASS] %-24s %s\n", check, detail)
	r.passed++
}

func (r *checkReport) warn(check, detail string) {
	fmt.Printf("  [WARN] %-24s %s\n", check, detail)
	r.warned++
}

func (r *checkReport) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-24s %s\n", check, detail)
	r.failed++
}

func doctorCmd() *cobra.Command {
	var skipHealth bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your bdagent setup",
		Long: `Verifies that the configuration, datasets, language model credentials and
web search backend are set up. Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("bdagent doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r checkReport

			// 1. Config
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (using defaults)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}
			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			// 2. Datasets
			descs, err := dataset.Descriptors(cfg.Datasets)
			if err != nil {
				r.fail("Dataset catalog", err.Error())
			}
			for _, d := range descs {
				store, err := dataset.Open(ctx, d, logger)
				if err != nil {
					r.warn("Dataset: "+d.ToolName(), fmt.Sprintf("%v (run 'bdagent ingest --only %s')", err, d.Name))
					continue
				}
				r.pass("Dataset: "+d.ToolName(), fmt.Sprintf("%s, %d columns", d.Location(), len(store.Columns())))
				store.Close()
			}

			// 3. Language model
			name := cfg.General.DefaultProvider
			pc := cfg.Providers[name]
			if err := provider.CheckCredentials(name, pc); err != nil {
				r.fail("Provider: "+name, err.Error())
			} else {
				factory := provider.NewFactory(cfg, logger)
				prov, err := factory.Get(name)
				switch {
				case err != nil:
					r.fail("Provider: "+name, err.Error())
				case skipHealth:
					r.pass("Provider: "+name, "credentials present (health check skipped)")
				default:
					if err := prov.Healthy(ctx); err != nil {
						r.warn("Provider: "+name, fmt.Sprintf("unhealthy: %v", err))
					} else {
						r.pass("Provider: "+name, fmt.Sprintf("healthy, model %s", factory.Model(name)))
					}
				}
			}
			for _, other := range cfg.General.FailoverChain {
				if other == name {
					continue
				}
				if err := provider.CheckCredentials(other, cfg.Providers[other]); err != nil {
					r.warn("Failover: "+other, err.Error())
				} else {
					r.pass("Failover: "+other, "credentials present")
				}
			}

			// 4. Web search
			switch cfg.Search.Provider {
			case "none":
				r.warn("Web search", "disabled")
			case "google":
				if cfg.Search.APIKey == "" || cfg.Search.EngineID == "" {
					r.fail("Web search", "google needs GOOGLE_SEARCH_API_KEY and GOOGLE_SEARCH_ENGINE_ID")
				} else {
					r.pass("Web search", "google")
				}
			default:
				r.pass("Web search", "duckduckgo")
			}

			// 5. Journal
			if cfg.Journal.Enabled {
				r.pass("Journal", cfg.Journal.DBPath)
			}

			return r.summary()
		},
	}
	cmd.Flags().BoolVar(&skipHealth, "offline", false, "skip network health checks")
	return cmd
}

func (r *checkReport) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before chatting.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nbdagent should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! bdagent is ready.\n")
	}
	return nil
}
