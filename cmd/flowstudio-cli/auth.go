package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avnmr/ai-retail/pkg/client"
)

func (c *cli) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt(cmd, "Username", &c.username)
			prompt(cmd, "Password", &c.password)

			api := client.New(c.serverURL, client.WithLogger(c.logger))
			resp, err := api.Login(cmd.Context(), c.username, c.password)
			if err != nil {
				return err
			}

			c.token = resp.Token
			config := Config{
				ServerURL: c.serverURL,
				Username:  resp.Username,
				JWTToken:  resp.Token,
			}
			if err := c.saveConfig(config); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: Failed to save config: %v\n", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Login successful")
			return nil
		},
	}
}

func (c *cli) accountCmd() *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Manage your account",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt(cmd, "Username", &c.username)
			prompt(cmd, "Password", &c.password)
			if c.username == "" || c.password == "" {
				return errors.New("username and password are required")
			}

			api := client.New(c.serverURL, client.WithLogger(c.logger))
			account, err := api.CreateAccount(cmd.Context(), c.username, c.password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Account created: %s (%s)\n", account.Username, account.ID)
			return nil
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show the current account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			account, err := api.Me(cmd.Context())
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(account, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	accountCmd.AddCommand(createCmd, infoCmd)
	return accountCmd
}
