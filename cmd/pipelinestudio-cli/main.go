// Package main provides a CLI for working with pipelines locally and with a
// running pipelinestudio server.
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// Config represents the CLI configuration
type Config struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token"`
}

// cliOptions holds the global flags
type cliOptions struct {
	serverURL  string
	token      string
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:           "pipelinestudio-cli",
		Short:         "Pipeline Studio CLI",
		Long:          "Command-line interface for validating, scheduling and running RAG pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load config if not explicitly provided
			if opts.serverURL == "" || opts.token == "" {
				opts.loadConfig(cmd.ErrOrStderr())
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", "", "Server URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", "", "API token")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to CLI config file")

	// Local commands
	rootCmd.AddCommand(
		newValidateCmd(),
		newScheduleCmd(),
		newRoutesCmd(),
		newExportCmd(),
		newRunCmd(),
		newTokenCmd(),
		newMigrateCmd(),
	)

	// Server commands
	rootCmd.AddCommand(
		newLoginCmd(opts),
		newExecuteCmd(opts),
		newStateCmd(opts),
		newRunsCmd(opts),
		newAbortCmd(opts),
		newPresetCmd(opts),
	)

	return rootCmd
}

func (o *cliOptions) defaultConfigPath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".pipelinestudio", "cli-config.json"), nil
}

// loadConfig fills unset flags from the CLI config file
func (o *cliOptions) loadConfig(warn io.Writer) {
	path, err := o.defaultConfigPath()
	if err != nil {
		return
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		fmt.Fprintf(warn, "Warning: Failed to read config file: %v\n", err)
		return
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		fmt.Fprintf(warn, "Warning: Failed to parse config file: %v\n", err)
		return
	}

	if o.serverURL == "" {
		o.serverURL = config.ServerURL
	}
	if o.token == "" {
		o.token = config.Token
	}
}

// saveConfig saves the CLI configuration
func (o *cliOptions) saveConfig(config Config) error {
	path, err := o.defaultConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// request calls the server API and returns the response body.
// Non-2xx responses are returned as errors carrying the body text.
func (o *cliOptions) request(method, path string, body interface{}) ([]byte, error) {
	if o.serverURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimRight(o.serverURL, "/")+"/api/v1"+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// printJSON re-indents a JSON response body
func printJSON(w io.Writer, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		_, err = w.Write(data)
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}
