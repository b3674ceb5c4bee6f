package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tcmartin/pipelinestudio/pkg/loader"
	"github.com/tcmartin/pipelinestudio/pkg/registry"
)

// newLoginCmd checks the credentials against the server and saves them
func newLoginCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Verify the server URL and token and save them to the CLI config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.request(http.MethodGet, "/backend/status", nil); err != nil {
				return err
			}
			if err := opts.saveConfig(Config{ServerURL: opts.serverURL, Token: opts.token}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s\n", opts.serverURL)
			return nil
		},
	}
}

func newExecuteCmd(opts *cliOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "execute [query]",
		Short: "Start a run on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"query": args[0]}
			if mode != "" {
				body["mode"] = mode
			}
			data, err := opts.request(http.MethodPost, "/executions", body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Execution mode (server default when empty)")
	return cmd
}

func newStateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the server's execution state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.request(http.MethodGet, "/executions/state", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newRunsCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List recent runs, or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/runs?limit=" + strconv.Itoa(limit)
			if len(args) == 1 {
				path = "/runs/" + url.PathEscape(args[0])
			}
			data, err := opts.request(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func newAbortCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the active run on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.request(http.MethodPost, "/executions/abort", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newPresetCmd(opts *cliOptions) *cobra.Command {
	presetCmd := &cobra.Command{
		Use:   "preset",
		Short: "Preset management",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.request(http.MethodGet, "/presets", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	var description string
	createCmd := &cobra.Command{
		Use:   "create [name] [file]",
		Short: "Save a pipeline file as a preset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read pipeline file: %w", err)
			}
			def, err := loader.NewLoader(registry.Default()).Parse(content)
			if err != nil {
				return err
			}
			p := def.Pipeline()
			data, err := opts.request(http.MethodPost, "/presets", map[string]interface{}{
				"name":        args[0],
				"description": description,
				"pipeline":    p,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	createCmd.Flags().StringVar(&description, "description", "", "Preset description")

	loadCmd := &cobra.Command{
		Use:   "load [id]",
		Short: "Replace the server's pipeline with a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.request(http.MethodPost, "/presets/"+url.PathEscape(args[0])+"/load", nil)
			if err != nil {
				return err
			}
			var p struct {
				Nodes []json.RawMessage `json:"nodes"`
			}
			if err := json.Unmarshal(data, &p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded preset %s (%d nodes)\n", args[0], len(p.Nodes))
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.request(http.MethodDelete, "/presets/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Preset deleted successfully")
			return nil
		},
	}

	presetCmd.AddCommand(listCmd, createCmd, loadCmd, deleteCmd)
	return presetCmd
}
