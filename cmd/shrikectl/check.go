package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shrikeio/shrike/internal/admission"
	"github.com/shrikeio/shrike/internal/eval"
	"github.com/shrikeio/shrike/internal/manifest"
	"github.com/shrikeio/shrike/internal/store"
)

var (
	checkFile     string
	checkPolicies string
)

// CheckResult is the output of one offline admission dry run.
type CheckResult struct {
	Allowed  bool     `json:"allowed"`
	Kind     string   `json:"kind"`
	Name     string   `json:"name"`
	Messages []string `json:"messages,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a manifest offline against a policy directory",
		Long: `Run the admission pipeline locally, without a cluster or server.

Examples:
  # Would this deployment be admitted?
  shrikectl check -f deployment.yaml --policies ./policies

  # JSON output for scripting
  shrikectl check -f deployment.yaml --policies ./policies -o json`,
		RunE: runCheck,
	}

	cmd.Flags().StringVarP(&checkFile, "filename", "f", "", "Manifest file to check (required)")
	cmd.Flags().StringVar(&checkPolicies, "policies", "", "Policy manifest directory (required)")
	cmd.MarkFlagRequired("filename")
	cmd.MarkFlagRequired("policies")

	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	gateway, err := buildOfflineGateway(checkPolicies)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(checkFile)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	denied := false
	for i, doc := range manifest.SplitDocuments(data) {
		obj, err := manifest.DecodeObject(doc)
		if err != nil {
			return fmt.Errorf("document %d: %w", i+1, err)
		}

		decision := gateway.Review(context.Background(), admission.Request{
			UID:       fmt.Sprintf("check-%d", i+1),
			Operation: "CREATE",
			Object:    obj,
		})

		result := CheckResult{
			Allowed:  decision.Allowed,
			Kind:     obj.GetKind(),
			Name:     obj.GetName(),
			Messages: decision.Messages,
			Warnings: decision.Warnings,
		}
		if err := outputResult(result, outputFmt); err != nil {
			return err
		}
		if !decision.Allowed {
			denied = true
		}
	}

	if denied {
		return fmt.Errorf("manifest would be denied")
	}
	return nil
}

// buildOfflineGateway loads a policy directory into a fresh store and wires
// the same pipeline the server runs.
func buildOfflineGateway(policyDir string) (*admission.Gateway, error) {
	logger := zap.NewNop()

	policyStore := store.New(logger)
	loader := manifest.NewLoader(policyDir, policyStore, logger)
	if err := loader.Load(); err != nil {
		return nil, err
	}

	evaluator := eval.NewEvaluator(eval.NewRegistry(), 0, logger)
	return admission.NewGateway(policyStore, evaluator, admission.Config{}, logger), nil
}
