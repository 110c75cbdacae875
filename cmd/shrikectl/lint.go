package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shrikeio/shrike/internal/manifest"
	"github.com/shrikeio/shrike/internal/store"
)

var lintPolicies string

// LintResult summarizes a policy directory's health.
type LintResult struct {
	Templates   int          `json:"templates"`
	Constraints int          `json:"constraints"`
	Inert       []InertEntry `json:"inert,omitempty"`
}

// InertEntry names a constraint that would never be evaluated.
type InertEntry struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func lintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a policy directory",
		Long: `Load templates and constraints the way the engine would and report
anything broken: malformed documents, unknown templates, parameter
bindings that fail the template schema.`,
		RunE: runLint,
	}

	cmd.Flags().StringVar(&lintPolicies, "policies", "", "Policy manifest directory (required)")
	cmd.MarkFlagRequired("policies")

	return cmd
}

func runLint(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()

	policyStore := store.New(logger)
	loader := manifest.NewLoader(lintPolicies, policyStore, logger)
	if err := loader.Load(); err != nil {
		return err
	}

	snapshot := policyStore.Snapshot()
	result := LintResult{
		Templates:   len(snapshot.Templates()),
		Constraints: len(snapshot.Constraints()),
	}
	for _, c := range snapshot.Constraints() {
		if c.Inert {
			result.Inert = append(result.Inert, InertEntry{Name: c.Name, Reason: c.InertReason})
		}
	}

	if err := outputResult(result, outputFmt); err != nil {
		return err
	}
	if len(result.Inert) > 0 {
		return fmt.Errorf("%d constraint(s) are inert", len(result.Inert))
	}
	return nil
}
