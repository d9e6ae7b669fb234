package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/crashguard/internal/detector"
	"github.com/miradorstack/crashguard/internal/models"
	"github.com/miradorstack/crashguard/internal/supervisor"
)

func newClassifyCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <trace-file>",
		Short: "Check a saved crash report against the hook framework signatures",
		Long:  "Parses a Go panic or JVM-style crash report (use - for stdin) and prints what the guard would decide under both strategies, assuming a patch is loaded.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			data, err := readTrace(cmd, args[0])
			if err != nil {
				return err
			}
			signatures, err := detector.LoadSignatures(cfg.Detector.SignaturesPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			crash, ok := supervisor.ParseCrashOutput(data)
			if !ok {
				fmt.Fprintln(out, "no crash report found")
				return nil
			}
			fmt.Fprintf(out, "thread: %s\n", crash.Thread)
			fmt.Fprintf(out, "exception: %s\n", crash.Exception)

			det := detector.New(logger, signatures)
			if sig, ok := det.Match(crash.Exception); ok {
				fmt.Fprintf(out, "signature: %s (%s)\n", sig.ID, sig.Framework)
			} else {
				fmt.Fprintln(out, "signature: none")
			}
			state := models.PatchRuntimeState{Loaded: true, Version: "loaded"}
			for _, strategy := range []models.Strategy{models.StrategyPrecise, models.StrategyOpaque} {
				fmt.Fprintf(out, "%s: %s\n", strategy, det.Attribute(crash.Exception, state, strategy))
			}
			return nil
		},
	}
}

func readTrace(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return data, nil
}
