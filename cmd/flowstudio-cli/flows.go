package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/avnmr/ai-retail/pkg/flowlist"
	"github.com/avnmr/ai-retail/pkg/loader"
	"github.com/avnmr/ai-retail/pkg/models"
)

func (c *cli) flowCmd() *cobra.Command {
	flowCmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage flows",
	}
	flowCmd.AddCommand(
		c.flowListCmd(),
		c.flowGetCmd(),
		c.flowSaveCmd(),
		c.flowDeleteCmd(),
		c.flowWatchCmd(),
	)
	return flowCmd
}

func (c *cli) flowListCmd() *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.store.Load(cmd.Context(), s.username); err != nil {
				return err
			}
			printFlows(cmd.OutOrStdout(), s.store.Snapshot(), search)
			return nil
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Only show flows whose name contains this text")
	return cmd
}

func (c *cli) flowGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [flow-id]",
		Short: "Show a flow and its definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			flow, err := api.GetFlow(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(flow, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func (c *cli) flowSaveCmd() *cobra.Command {
	var (
		id          string
		name        string
		description string
		file        string
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a flow from a definition file",
		Long:  "Create a flow, or update it when --id is given. The definition file may be JSON or YAML.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.session(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var input models.FlowInput
			if id != "" {
				existing, err := s.api.GetFlow(ctx, id)
				if err != nil {
					return err
				}
				input = models.FlowInput{
					Name:        existing.Name,
					Description: existing.Description,
					Definition:  existing.Definition,
				}
			}
			if name != "" {
				input.Name = name
			}
			if cmd.Flags().Changed("description") {
				input.Description = description
			}
			if file != "" {
				definition, err := readDefinition(file)
				if err != nil {
					return err
				}
				input.Definition = definition
			}
			if input.Name == "" {
				return errors.New("flow name is required")
			}

			// The list is loaded first so the save lands in a populated store
			if err := s.store.Load(ctx, s.username); err != nil {
				return err
			}

			var flow models.Flow
			if id != "" {
				flow, err = s.api.UpdateFlow(ctx, id, input)
			} else {
				flow, err = s.api.CreateFlow(ctx, input)
			}
			if err != nil {
				return err
			}

			summary := flow.Summary()
			if err := s.store.Save(ctx, s.username, &summary); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Flow saved: %s (%s)\n", flow.Name, flow.ID)
			printFlows(cmd.OutOrStdout(), s.store.Snapshot(), "")
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "ID of the flow to update")
	cmd.Flags().StringVar(&name, "name", "", "Flow name")
	cmd.Flags().StringVar(&description, "description", "", "Flow description")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Flow definition file (JSON or YAML)")
	return cmd
}

func (c *cli) flowDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [flow-id]",
		Short: "Delete a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.session(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.store.Load(ctx, s.username); err != nil {
				return err
			}
			if err := s.store.Delete(ctx, args[0]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Flow deleted: %s\n", args[0])
			printFlows(cmd.OutOrStdout(), s.store.Snapshot(), "")
			return nil
		},
	}
}

func (c *cli) flowWatchCmd() *cobra.Command {
	var (
		transport string
		schedule  string
		search    string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow changes to your flows",
		Long:  "Keep the flow list in sync with the server using its event stream, and optionally a periodic reload.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if transport != "sse" && transport != "ws" {
				return fmt.Errorf("unknown transport %q (expected sse or ws)", transport)
			}

			s, err := c.session(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if schedule != "" {
				syncer, err := flowlist.NewSyncer(s.store, s.username, schedule, 30*time.Second, c.logger)
				if err != nil {
					return err
				}
				syncer.Start()
				defer syncer.Stop()
			}

			if err := s.store.Load(ctx, s.username); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			printFlows(out, s.store.Snapshot(), search)

			handler := func(event models.FlowEvent) {
				if err := s.store.HandleEvent(ctx, s.username, event); err != nil {
					c.logger.Warn("failed to apply flow event", "type", event.Type, "flow_id", event.FlowID, "error", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out, "\n%s %s\n", event.Type, event.FlowID)
				printFlows(out, s.store.Snapshot(), search)
			}

			if transport == "ws" {
				return s.api.SubscribeWebSocket(ctx, handler)
			}
			return s.api.SubscribeSSE(ctx, handler)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "sse", "Event transport: sse or ws")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule for periodic reloads, e.g. \"@every 1m\"")
	cmd.Flags().StringVar(&search, "search", "", "Only show flows whose name contains this text")
	return cmd
}

// readDefinition parses and validates a definition file, returning it as JSON
func readDefinition(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	def, err := loader.ParseFile(path, data)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def.JSON()
}

// printFlows writes the filtered list, marking the selected flow with '*'
func printFlows(w io.Writer, snap flowlist.Snapshot, search string) {
	flows := flowlist.Filter(snap.Flows, search)
	if len(flows) == 0 {
		fmt.Fprintln(w, "No flows found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, " \tID\tNAME\tCREATED")
	for _, flow := range flows {
		marker := " "
		if flow.ID == snap.Selected {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, flow.ID, flow.Name, flow.CreatedAt)
	}
	tw.Flush()
}
