// Package main provides conclaved-ctl, an operator CLI that talks to a
// running Conclave engine's REST surface (§6) — session inspection, cron
// job management, and agent metrics — without embedding the engine
// itself.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		baseURL string
		token   string
	)

	client := &apiClient{httpClient: &http.Client{Timeout: 15 * time.Second}}

	root := &cobra.Command{
		Use:          "conclaved-ctl",
		Short:        "Operator CLI for a running Conclave engine",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			client.baseURL = baseURL
			client.token = token
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "addr", "http://localhost:8080", "Conclave engine base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("CONCLAVE_TOKEN"), "Bearer token for the engine's API")

	root.AddCommand(
		buildSessionsCmd(client),
		buildCronCmd(client),
		buildAgentsCmd(client),
	)
	return root
}

// apiClient is a minimal JSON REST client over Conclave's §6 surface.
type apiClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func (c *apiClient) do(method, path string, body io.Reader, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func buildSessionsCmd(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Inspect sessions"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := client.do(http.MethodGet, "/sessions", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	end := &cobra.Command{
		Use:   "end [session-id]",
		Short: "Mark a session ended",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.do(http.MethodPost, "/sessions/"+args[0]+"/end", nil, nil)
		},
	}

	cmd.AddCommand(list, end)
	return cmd
}

func buildCronCmd(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{Use: "cron", Short: "Manage scheduled jobs"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List enabled cron jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := client.do(http.MethodGet, "/cron", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	trigger := &cobra.Command{
		Use:   "trigger [job-id]",
		Short: "Trigger a cron job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.do(http.MethodPost, "/cron/"+args[0]+"/trigger", nil, nil)
		},
	}

	history := &cobra.Command{
		Use:   "history [job-id]",
		Short: "Show a cron job's execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := client.do(http.MethodGet, "/cron/"+args[0]+"/history", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.AddCommand(list, trigger, history)
	return cmd
}

func buildAgentsCmd(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{Use: "agents", Short: "Inspect agent pool metrics"}

	metrics := &cobra.Command{
		Use:   "metrics",
		Short: "Show per-agent pheromone, load, and error-rate metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := client.do(http.MethodGet, "/agents/metrics", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.AddCommand(metrics)
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
