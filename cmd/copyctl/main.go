// Package main implements copyctl, the operator CLI for copyd.
//
// Commands that read or write records open the SQLite store named by the
// copyd configuration directly; health talks to a running server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/copyd/internal/config"
	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	serverURL  string
	userID     string
	workspace  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "copyctl",
		Short: "Operator CLI for copyd",
		Long: `copyctl inspects and administers a copyd deployment.

It reads the same configuration as the server (~/.config/copyd/config.yaml
plus COPYD_* environment variables) and opens the record store directly.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://127.0.0.1:8420", "copyd server URL")
	root.PersistentFlags().StringVar(&opts.userID, "user", "", "user ID")
	root.PersistentFlags().StringVar(&opts.workspace, "workspace", "", "workspace ID")

	root.AddCommand(
		newHealthCmd(opts),
		newUsageCmd(opts),
		newContextCmd(opts),
		newPlanCmd(opts),
		newStepsCmd(),
		newPromptsCmd(),
	)
	return root
}

// subject validates the --user and --workspace flags.
func (o *options) subject() (subject.Subject, error) {
	if o.userID == "" {
		return subject.Subject{}, fmt.Errorf("--user is required")
	}
	return subject.New(o.userID, o.workspace)
}

// openStore loads the configuration and opens its record store.
func (o *options) openStore() (*config.Config, *records.SQLiteStore, error) {
	cfg, err := config.LoadWithFile(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	store, err := records.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store %s: %w", cfg.Store.Path, err)
	}
	return cfg, store, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
