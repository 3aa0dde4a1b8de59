package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	copyhttp "github.com/fyrsmithlabs/copyd/internal/http"
	"github.com/fyrsmithlabs/copyd/internal/pipeline"
	"github.com/fyrsmithlabs/copyd/internal/prompts"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running copyd server",
		Long: `Check the health status of a copyd server.

Examples:
  copyctl health
  copyctl health --server http://copyd.internal:8420`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := opts.serverURL + "/health"
			client := &http.Client{Timeout: 5 * time.Second}

			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", url, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("server returned status %d: %s", resp.StatusCode, body)
			}
			var health copyhttp.HealthResponse
			if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\nServer URL: %s\n", health.Status, opts.serverURL)
			return nil
		},
	}
}

func newStepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steps",
		Short: "List pipeline steps and the quota they consume",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tQUOTA")
			for _, step := range pipeline.Steps() {
				category, _ := pipeline.Category(step)
				if category == "" {
					category = "-"
				}
				fmt.Fprintf(w, "%s\t%s\n", step, category)
			}
			return w.Flush()
		},
	}
}

func newPromptsCmd() *cobra.Command {
	group := &cobra.Command{
		Use:   "prompts",
		Short: "Work with prompt override files",
	}
	group.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a prompt override file",
		Long: `Parse a prompt override file and merge it over the built-in prompts,
reporting what the server would end up using.

Examples:
  copyctl prompts check /etc/copyd/prompts.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: runPromptsCheck,
	})
	return group
}

func runPromptsCheck(cmd *cobra.Command, args []string) error {
	lib, err := prompts.Load(args[0], nil)
	if err != nil {
		return err
	}
	set := lib.Current()
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d rules, %d formats, %d steps)\n",
		args[0], len(set.Rules), len(set.Formats), len(set.Steps))
	return nil
}
