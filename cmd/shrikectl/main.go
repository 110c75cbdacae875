// shrikectl is a CLI for working with shrike policies.
//
// Usage:
//
//	shrikectl check -f deployment.yaml --policies ./policies
//	shrikectl lint --policies ./policies
//	shrikectl status --server http://shrike.shrike-system.svc:8080
//	shrikectl audit --server http://shrike.shrike-system.svc:8080
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	outputFmt string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shrikectl",
		Short: "Validate manifests and inspect shrike policies",
		Long: `shrikectl works with shrike, a policy-based admission-control engine.

It evaluates manifests offline against a policy directory, lints policy
documents, and queries a running engine for its policy set and audit report.`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(lintCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
