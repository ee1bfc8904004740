package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bdagent/internal/dataset"
	"bdagent/internal/ingest"

	"github.com/spf13/cobra"
)

func ingestCmd() *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Download the configured datasets and rebuild their tables",
		Long: `Fetches every dataset in the catalog (from the Hugging Face datasets-server,
or a local .csv/.xlsx file), cleans its column names and replaces the
corresponding table. Set HF_TOKEN to authenticate against Hugging Face.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			descs, err := dataset.Descriptors(cfg.Datasets)
			if err != nil {
				return err
			}
			descs, err = selectDatasets(descs, only)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ing := ingest.New(ingest.Config{
				Fetcher: ingest.NewHFClient(ingest.HFConfig{
					Token:  os.Getenv("HF_TOKEN"),
					Logger: logger,
				}),
				Logger: logger,
			})
			results, err := ing.Run(ctx, descs)

			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(out, "  [FAIL] %-20s %v\n", r.Name, r.Err)
					continue
				}
				fmt.Fprintf(out, "  [ OK ] %-20s saved %d rows to %s\n", r.Name, r.Rows, r.Location)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&only, "only", nil, "ingest only the named datasets (repeatable)")
	return cmd
}

// selectDatasets keeps the descriptors whose name or table is listed in only.
// An empty list selects everything; an unknown name is an error.
func selectDatasets(descs []dataset.Descriptor, only []string) ([]dataset.Descriptor, error) {
	if len(only) == 0 {
		return descs, nil
	}
	var out []dataset.Descriptor
	for _, name := range only {
		found := false
		for _, d := range descs {
			if d.Name == name || d.Table == name {
				out = append(out, d)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown dataset %q", name)
		}
	}
	return out, nil
}
