// ABOUTME: chat subcommand: interactive full-screen chat with a group
// ABOUTME: Runs the Bubble Tea view on top of the sync engine

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/coven-groups/internal/tui"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		agent string
		bell  bool
	)

	cmd := &cobra.Command{
		Use:   "chat <group>",
		Short: "Chat with the agents of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			g, err := a.resolveGroup(ctx, args[0])
			if err != nil {
				return err
			}
			agents, err := a.client.ListGroupAgents(ctx, g.ID)
			if err != nil {
				return fmt.Errorf("listing group agents: %w", err)
			}

			eng, err := a.newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.SelectGroup(ctx, g.ID); err != nil {
				return fmt.Errorf("selecting group: %w", err)
			}

			return tui.Run(ctx, eng, tui.Options{
				Group:  g,
				Agents: agents,
				Target: strings.TrimPrefix(agent, "@"),
				Bell:   bell,
			})
		},
	}
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "default agent for messages without a mention")
	cmd.Flags().BoolVar(&bell, "bell", true, "ring the terminal bell when an agent mentions you")
	return cmd
}
