package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdss-mcp-server/internal/setup"
)

// NewSetupCommand returns the setup command. It needs no configuration and is
// shared with the standalone MCP binary.
func NewSetupCommand() *cobra.Command {
	opts := setup.Options{}
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with a desktop MCP client",
		Long: `Setup adds a "cdss" entry to the desktop client configuration so the client
launches the MCP server on demand. Other entries are left untouched.

Example:
  cdss setup --type full
  cdss setup status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := setup.Configure(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %q in %s\nRestart the client to load it.\n", setup.ServerName, path)
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ServerType, "type", "lite", "server to register: lite (cdss-mcp) or full (cdss mcp)")
	flags.StringVar(&opts.BinaryPath, "binary", "", "server binary (default: search PATH and common locations)")
	flags.StringVar(&opts.DataDir, "data-dir", "", "data directory for the lite server")
	flags.StringVar(&opts.CorpusPath, "corpus", "", "interaction corpus CSV passed to the lite server")
	flags.StringVar(&opts.AliasPath, "aliases", "", "alias vocabulary YAML passed to the lite server")
	flags.StringVar(&opts.ConfigPath, "client-config", "", "client configuration file (default: per-OS location)")

	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether the server is registered and ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := setup.GetStatus(opts)
			if err := writeJSON(cmd.OutOrStdout(), st); err != nil {
				return err
			}
			if !st.Ready() {
				return fmt.Errorf("setup has %d issue(s)", len(st.Issues))
			}
			return nil
		},
	}
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove the server entry from the client configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := setup.Remove(opts)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintln(cmd.OutOrStdout(), "Removed CDSS MCP server entry")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No CDSS MCP server entry found")
			}
			return nil
		},
	}
	cmd.AddCommand(status, remove)
	return cmd
}
