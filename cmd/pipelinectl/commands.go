package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit a document for processing",
	Long: `Submit a document for processing.

Examples:
  pipelinectl submit resume.pdf
  pipelinectl submit --wait resume.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client := newAPIClient()
		resp, err := client.upload(cmd.Context(), "/applications", args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		id := result["application_id"]
		printSuccess("Accepted application %s (%s)", id, result["status"])

		if !wait {
			return nil
		}
		return waitForTerminal(cmd, client, id)
	},
}

func waitForTerminal(cmd *cobra.Command, client *apiClient, id string) error {
	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(3 * time.Second):
		}

		resp, err := client.get(cmd.Context(), "/applications/"+id)
		if err != nil {
			return err
		}
		var app struct {
			Status       string  `json:"status"`
			FailedReason *string `json:"failed_reason"`
		}
		if err := decodeJSON(resp, &app); err != nil {
			return err
		}

		switch app.Status {
		case "COMPLETED":
			printSuccess("Application %s completed", id)
			return nil
		case "FAILED":
			reason := ""
			if app.FailedReason != nil {
				reason = *app.FailedReason
			}
			return fmt.Errorf("application %s failed: %s", id, reason)
		default:
			printStep("Status: %s", app.Status)
		}
	}
}

func init() {
	submitCmd.Flags().Bool("wait", false, "poll until the application reaches a terminal status")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show an application as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()
		resp, err := client.get(cmd.Context(), "/applications/"+args[0])
		if err != nil {
			return err
		}

		var app any
		if err := decodeJSON(resp, &app); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(app)
	},
}

// --- compare ---

var compareCmd = &cobra.Command{
	Use:   "compare <id> <other-id>",
	Short: "Score two completed applications against each other",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()
		resp, err := client.get(cmd.Context(), "/applications/"+args[0]+"/similarity/"+args[1])
		if err != nil {
			return err
		}

		var result struct {
			Similarity float64 `json:"similarity"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Similarity: %.4f", result.Similarity)
		return nil
	},
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download completed applications as an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = "applications.xlsx"
		}

		client := newAPIClient()
		resp, err := client.get(cmd.Context(), "/exports/applications.xlsx")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(f, resp.Body); err != nil {
			return err
		}

		printSuccess("Export written to %s", output)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "", "output file path (default: applications.xlsx)")
}
