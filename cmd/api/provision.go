package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/evalboard/evalboard/internal/config"
	"github.com/evalboard/evalboard/internal/models"
	"github.com/evalboard/evalboard/internal/store"
)

func newProvisionCmd() *cobra.Command {
	var (
		configPath string
		cfg        models.EvalConfig
		policy     string
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create a user's evaluation config",
		Long: `Creates the evaluation config for a user if none exists.

An existing config is left untouched. Ingestion for a user without a
config is rejected with "no config".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.RunPolicy = models.RunPolicy(policy)
			return runProvision(cmd.Context(), cmd.OutOrStdout(), configPath, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (optional)")
	cmd.Flags().StringVar(&cfg.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&policy, "policy", string(models.RunPolicyAlways), "run policy: always or sampled")
	cmd.Flags().IntVar(&cfg.SampleRatePercent, "rate", 100, "sample rate percent (0-100) for the sampled policy")
	cmd.Flags().IntVar(&cfg.MaxEvalPerDay, "max", models.DefaultMaxEvalPerDay, "maximum accepted evaluations per day")
	cmd.Flags().BoolVar(&cfg.ObfuscatePII, "obfuscate-pii", false, "mark the user's evaluations for PII obfuscation")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runProvision(ctx context.Context, out io.Writer, configPath string, ec models.EvalConfig) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	if err := db.ProvisionEvalConfig(ctx, ec); err != nil {
		return fmt.Errorf("provision: %w", err)
	}

	got, err := db.GetEvalConfig(ctx, ec.UserID)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	fmt.Fprintf(out, "user %s: policy=%s rate=%d max=%d obfuscate_pii=%t\n",
		got.UserID, got.RunPolicy, got.SampleRatePercent, got.MaxEvalPerDay, got.ObfuscatePII)
	return nil
}
