// ABOUTME: groups and agents subcommands
// ABOUTME: List, create, and delete groups; browse agents and manage group membership

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/coven-groups/internal/store"
)

func newGroupsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "groups",
		Aliases: []string{"group"},
		Short:   "Manage conversation groups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := a.client.ListGroups(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing groups: %w", err)
			}
			if len(groups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No groups yet. Create one with 'coven-groups groups create <name>'.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCREATED")
			for _, g := range groups {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", g.ID, g.Name, formatTime(g.CreatedAt))
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.client.CreateGroup(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("creating group: %w", err)
			}
			printOK(cmd.OutOrStdout(), "Created group %s (%s)", g.Name, g.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <group>",
		Short: "Delete a group and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.resolveGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.client.DeleteGroup(cmd.Context(), g.ID); err != nil {
				return fmt.Errorf("deleting group: %w", err)
			}
			printOK(cmd.OutOrStdout(), "Deleted group %s", g.Name)
			return nil
		},
	})

	return cmd
}

func newAgentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Browse agents and manage group membership",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [group]",
		Short: "List all agents, or the members of a group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				agents []store.Agent
				err    error
			)
			if len(args) == 1 {
				g, gerr := a.resolveGroup(cmd.Context(), args[0])
				if gerr != nil {
					return gerr
				}
				agents, err = a.client.ListGroupAgents(cmd.Context(), g.ID)
			} else {
				agents, err = a.client.ListAgents(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("listing agents: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tDESCRIPTION")
			for _, ag := range agents {
				name := ag.Name
				if ag.Emoji != "" {
					name = ag.Emoji + " " + name
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", ag.Key, name, ag.Description)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <group> <agent>",
		Short: "Add an agent to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.resolveGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.client.AddAgentToGroup(cmd.Context(), g.ID, args[1]); err != nil {
				return fmt.Errorf("adding agent: %w", err)
			}
			printOK(cmd.OutOrStdout(), "Added @%s to %s", args[1], g.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <group> <agent>",
		Short: "Remove an agent from a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.resolveGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.client.RemoveAgentFromGroup(cmd.Context(), g.ID, args[1]); err != nil {
				return fmt.Errorf("removing agent: %w", err)
			}
			printOK(cmd.OutOrStdout(), "Removed @%s from %s", args[1], g.Name)
			return nil
		},
	})

	return cmd
}
