package main

import (
	"fmt"
	"log/slog"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/miradorstack/crashguard/internal/history"
)

func newCountersCmd(root *rootOptions) *cobra.Command {
	counters := &cobra.Command{
		Use:   "counters",
		Short: "Inspect or reset persisted fast crash counts",
	}

	counters.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List fast crash counts per patch version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.StoreOptions())
			if err != nil {
				return fmt.Errorf("open crash history: %w", err)
			}
			defer store.Close()

			counts, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			versions := make([]string, 0, len(counts))
			for version := range counts {
				versions = append(versions, version)
			}
			sort.Strings(versions)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tFAST CRASHES")
			for _, version := range versions {
				fmt.Fprintf(w, "%s\t%d\n", version, counts[version])
			}
			return w.Flush()
		},
	})

	counters.AddCommand(&cobra.Command{
		Use:   "reset <version>",
		Short: "Forget the fast crash count of a patch version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.StoreOptions())
			if err != nil {
				return fmt.Errorf("open crash history: %w", err)
			}
			defer store.Close()

			if err := store.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			logger.Info("crash count reset", slog.String("version", args[0]))
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", args[0])
			return nil
		},
	})
	return counters
}
