package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avnmr/ai-retail/pkg/flowise"
	"github.com/avnmr/ai-retail/pkg/vectorindex"
)

func (c *cli) indexCmd() *cobra.Command {
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Manage your vector index",
	}

	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create your vector index if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.store.EnsureIndex(cmd.Context(), s.username); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Index ready: %s\n", vectorindex.IndexName(s.username))
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List vector indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			list, err := api.ListIndexes(cmd.Context())
			if err != nil {
				return err
			}
			for _, index := range list.Indexes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", index.Name, index.Dimension, index.Metric)
			}
			return nil
		},
	}

	indexCmd.AddCommand(ensureCmd, listCmd)
	return indexCmd
}

func (c *cli) chatCmd() *cobra.Command {
	var (
		flowID    string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask a question to a chat flow",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flowID == "" {
				return errors.New("--flow is required")
			}
			api, err := c.client()
			if err != nil {
				return err
			}

			resp, err := api.Chat(cmd.Context(), flowise.ChatRequest{
				ChatflowID: flowID,
				Question:   strings.Join(args, " "),
				SessionID:  sessionID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&flowID, "flow", "", "Chat flow ID")
	cmd.Flags().StringVar(&sessionID, "session", "", "Chat session ID")
	return cmd
}
