// Package main provides a CLI for interacting with the flowstudio server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/avnmr/ai-retail/pkg/client"
	"github.com/avnmr/ai-retail/pkg/flowlist"
	"github.com/avnmr/ai-retail/pkg/logging"
)

// Config represents the CLI configuration
type Config struct {
	ServerURL string `json:"server_url"`
	Username  string `json:"username"`
	Token     string `json:"token,omitempty"`
	JWTToken  string `json:"jwt_token,omitempty"`
}

// cli holds global flags and the state derived from them
type cli struct {
	serverURL  string
	username   string
	password   string
	token      string
	configPath string
	logLevel   string

	logger *slog.Logger
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "flowstudio-cli",
		Short:         "FlowStudio CLI",
		Long:          "Command-line interface for managing flows on a FlowStudio server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, _, err := logging.New(logging.LogConfig{Level: c.logLevel, Format: "text", Output: "stderr"})
			if err != nil {
				return err
			}
			c.logger = logger

			// Load config if not explicitly provided
			if c.serverURL == "" || (c.username == "" && c.token == "") {
				c.loadConfig(cmd.ErrOrStderr())
			}
			if c.serverURL == "" {
				c.serverURL = os.Getenv("FLOWSTUDIO_SERVER_URL")
			}
			if c.serverURL == "" {
				c.serverURL = "http://localhost:8080"
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.serverURL, "server", "", "Server URL")
	flags.StringVar(&c.username, "username", "", "Username")
	flags.StringVar(&c.password, "password", "", "Password")
	flags.StringVar(&c.token, "token", "", "API token or JWT")
	flags.StringVar(&c.configPath, "config", "", "Path to config file")
	flags.StringVar(&c.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		c.loginCmd(),
		c.accountCmd(),
		c.flowCmd(),
		c.indexCmd(),
		c.chatCmd(),
	)
	return rootCmd
}

// defaultConfigPath returns ~/.flowstudio/cli-config.json
func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".flowstudio", "cli-config.json"), nil
}

// loadConfig fills unset flags from the config file
func (c *cli) loadConfig(warn io.Writer) {
	if c.configPath == "" {
		path, err := defaultConfigPath()
		if err != nil {
			return
		}
		c.configPath = path
	}

	data, err := os.ReadFile(c.configPath)
	if errors.Is(err, os.ErrNotExist) {
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

	if c.serverURL == "" {
		c.serverURL = config.ServerURL
	}
	if c.username == "" && c.token == "" {
		c.username = config.Username
		c.token = config.Token

		// Prefer JWT token if available
		if config.JWTToken != "" {
			c.token = config.JWTToken
		}
	}
}

// saveConfig saves the CLI configuration
func (c *cli) saveConfig(config Config) error {
	if c.configPath == "" {
		path, err := defaultConfigPath()
		if err != nil {
			return err
		}
		c.configPath = path
	}

	if err := os.MkdirAll(filepath.Dir(c.configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// client returns an API client using the token, or basic credentials
func (c *cli) client() (*client.Client, error) {
	opts := []client.Option{client.WithLogger(c.logger)}
	switch {
	case c.token != "":
		opts = append(opts, client.WithToken(c.token))
	case c.username != "" && c.password != "":
		opts = append(opts, client.WithBasicAuth(c.username, c.password))
	default:
		return nil, errors.New("authentication required: run login or pass --token")
	}
	return client.New(c.serverURL, opts...), nil
}

// currentUser returns the username, asking the server when it is not configured
func (c *cli) currentUser(ctx context.Context, api *client.Client) (string, error) {
	if c.username != "" {
		return c.username, nil
	}
	account, err := api.Me(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve current user: %w", err)
	}
	c.username = account.Username
	return c.username, nil
}

// session is an authenticated client plus a flow store for the current user
type session struct {
	api      *client.Client
	store    *flowlist.Store
	username string
}

func (c *cli) session(ctx context.Context) (*session, error) {
	api, err := c.client()
	if err != nil {
		return nil, err
	}
	username, err := c.currentUser(ctx, api)
	if err != nil {
		return nil, err
	}
	return &session{
		api:      api,
		store:    flowlist.NewStore(api, api, flowlist.Options{Logger: c.logger}),
		username: username,
	}, nil
}

func (s *session) Close() {
	s.store.Close()
}

// prompt reads a value from stdin when it was not given as a flag
func prompt(cmd *cobra.Command, label string, value *string) {
	if *value != "" {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ", label)
	fmt.Fscanln(cmd.InOrStdin(), value)
}
