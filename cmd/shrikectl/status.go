package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/shrikeio/shrike/internal/api"
	"github.com/shrikeio/shrike/internal/audit"
)

var serverURL string

// StatusResult summarizes a running engine's policy set.
type StatusResult struct {
	PolicyVersion uint64 `json:"policyVersion"`
	Templates     int    `json:"templates"`
	Constraints   int    `json:"constraints"`
	Inert         int    `json:"inert"`
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running engine's policy set",
		RunE:  runStatus,
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Engine API base URL")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	var templates api.TemplatesResponse
	if err := fetchJSON(serverURL+"/api/v1/templates", &templates); err != nil {
		return err
	}
	var constraints api.ConstraintsResponse
	if err := fetchJSON(serverURL+"/api/v1/constraints", &constraints); err != nil {
		return err
	}

	result := StatusResult{
		PolicyVersion: constraints.PolicyVersion,
		Templates:     len(templates.Templates),
		Constraints:   len(constraints.Constraints),
	}
	for _, c := range constraints.Constraints {
		if c.Inert {
			result.Inert++
		}
	}
	return outputResult(result, outputFmt)
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show a running engine's latest audit report",
		RunE:  runAudit,
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Engine API base URL")
	return cmd
}

func runAudit(cmd *cobra.Command, args []string) error {
	var report audit.Report
	if err := fetchJSON(serverURL+"/api/v1/audit", &report); err != nil {
		return err
	}
	return outputResult(report, outputFmt)
}

func fetchJSON(url string, v interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", url, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}
