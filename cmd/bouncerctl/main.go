// Command bouncerctl is an operator-facing admin CLI for the broker's
// Agent->Broker RPC surface (§6): it is a thin HTTP client, not a second
// implementation of any broker component, grounded on the teacher's own
// cortex CLI's "cobra root command + subcommand groups, viper for layered
// config" shape.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	brokerURL    string
	sharedSecret string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bouncerctl",
		Short: "Operator CLI for the Bouncer authorization broker",
		Long: `bouncerctl talks to a running Bouncer broker over its Agent->Broker
RPC surface. It is a read-mostly operator tool for inspecting pending
approvals, registered accounts, and trust/grant session state; it never
executes a command itself.`,
		PersistentPreRunE: initConfig,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default $HOME/.bouncerctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&brokerURL, "broker-url", "", "broker base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&sharedSecret, "shared-secret", "", "X-Bouncer-Secret header value")

	rootCmd.AddCommand(listPendingCmd())
	rootCmd.AddCommand(listAccountsCmd())
	rootCmd.AddCommand(trustStatusCmd())
	rootCmd.AddCommand(grantStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig layers viper over a config file, BOUNCERCTL_* env vars, and
// the persistent flags above, in that ascending order of precedence —
// matching the teacher's own viper setup in internal/config.
func initConfig(cmd *cobra.Command, args []string) error {
	v := viper.New()
	v.SetEnvPrefix("BOUNCERCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("bouncerctl: reading config: %w", err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(home + "/.bouncerctl.yaml")
		v.SetConfigType("yaml")
		_ = v.ReadInConfig() // optional: fine if it doesn't exist
	}

	v.SetDefault("broker_url", "http://localhost:8080")

	if brokerURL == "" {
		brokerURL = v.GetString("broker_url")
	}
	if sharedSecret == "" {
		sharedSecret = v.GetString("shared_secret")
	}
	return nil
}

// client is a minimal HTTP caller for the broker's JSON RPC surface, with
// the shared-secret header already attached.
type client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func newClient() *client {
	return &client{baseURL: strings.TrimRight(brokerURL, "/"), secret: sharedSecret, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *client) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.secret != "" {
		req.Header.Set("X-Bouncer-Secret", c.secret)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bouncerctl: request to %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("bouncerctl: %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *client) post(path string, in, out interface{}) error {
	var buf bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Bouncer-Secret", c.secret)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bouncerctl: request to %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("bouncerctl: %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func listPendingCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "list-pending",
		Short: "List requests awaiting chat approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/list_pending"
			if source != "" {
				path += "?source=" + source
			}
			var out map[string]interface{}
			if err := newClient().get(path, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "filter by requesting source")
	return cmd
}

func listAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-accounts",
		Short: "List registered cloud accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newClient().get("/v1/list_accounts", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	return cmd
}

func trustStatusCmd() *cobra.Command {
	var source, account string
	cmd := &cobra.Command{
		Use:   "trust-status",
		Short: "Show a trust session's remaining window and command budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == "" {
				return fmt.Errorf("bouncerctl: --source is required")
			}
			path := fmt.Sprintf("/v1/trust_status?source=%s&account=%s", source, account)
			var out map[string]interface{}
			if err := newClient().get(path, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "requesting source (required)")
	cmd.Flags().StringVar(&account, "account", "", "target account ID")
	return cmd
}

func grantStatusCmd() *cobra.Command {
	var grantID, source string
	cmd := &cobra.Command{
		Use:   "grant-status",
		Short: "Show a grant session's remaining executions and expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if grantID == "" {
				return fmt.Errorf("bouncerctl: --grant-id is required")
			}
			path := fmt.Sprintf("/v1/grant_status?grant_id=%s&source=%s", grantID, source)
			var out map[string]interface{}
			if err := newClient().get(path, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&grantID, "grant-id", "", "grant session ID (required)")
	cmd.Flags().StringVar(&source, "source", "", "requesting source that owns the grant")
	return cmd
}
