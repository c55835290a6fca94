// ABOUTME: messages, send, upload, documents, and stop subcommands
// ABOUTME: One-shot REST calls against a single group

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-groups/internal/client"
	"github.com/2389/coven-groups/internal/mention"
	"github.com/2389/coven-groups/internal/store"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printMessage(w io.Writer, m store.Message) {
	var name string
	switch m.Role {
	case store.RoleUser:
		name = color.GreenString(m.Sender)
	case store.RoleAgent:
		name = color.CyanString(m.Sender)
	default:
		name = color.HiBlackString(m.Sender)
	}
	fmt.Fprintf(w, "%s %s: %s\n", color.HiBlackString(m.CreatedAt.Local().Format("15:04:05")), name, highlightMentions(m.Content))
}

func highlightMentions(s string) string {
	return mention.Replace(s, func(r mention.Result, token string) string {
		if r.Kind == mention.TargetsUser {
			return color.New(color.FgMagenta, color.Bold).Sprint(token)
		}
		return color.BlueString(token)
	})
}

// mentions reports whether content mentions name, ignoring case.
func mentions(content, name string) bool {
	name = strings.TrimPrefix(name, "@")
	for _, r := range mention.ScanAll(content) {
		if strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}

func newMessagesCmd(a *app) *cobra.Command {
	var (
		limit      int
		mentioning string
	)

	cmd := &cobra.Command{
		Use:   "messages <group>",
		Short: "Print the messages of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.resolveGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			msgs, err := a.client.ListMessages(cmd.Context(), g.ID)
			if err != nil {
				return fmt.Errorf("listing messages: %w", err)
			}
			if mentioning != "" {
				filtered := msgs[:0]
				for _, m := range msgs {
					if mentions(m.Content, mentioning) {
						filtered = append(filtered, m)
					}
				}
				msgs = filtered
			}
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}
			for _, m := range msgs {
				printMessage(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "only the last n messages")
	cmd.Flags().StringVar(&mentioning, "mentioning", "", "only messages that mention this agent, or user")
	return cmd
}

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <group> <agent> <message...>",
		Short: "Send a message to an agent in a group",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.resolveGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			agent := strings.TrimPrefix(args[1], "@")
			err = a.client.SendMessage(cmd.Context(), g.ID, client.SendRequest{
				AgentID: agent,
				Message: strings.Join(args[2:], " "),
				Sender:  a.cfg.Sync.Sender,
			})
			if err != nil {
				return fmt.Errorf("sending message: %w", err)
			}
			printOK(cmd.OutOrStdout(), "Sent to @%s in %s", agent, g.Name)
			return nil
		},
	}
}

func newUploadCmd(a *app) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "upload <group> <agent> <file>",
		Short: "Upload a document for an agent to work with",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.resolveGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[2])
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer f.Close()

			agent := strings.TrimPrefix(args[1], "@")
			res, err := a.client.UploadDocument(cmd.Context(), g.ID, agent, filepath.Base(args[2]), f, message)
			if err != nil {
				return fmt.Errorf("uploading document: %w", err)
			}
			printOK(cmd.OutOrStdout(), "Uploaded %s (%d bytes) for @%s, document %s", res.Filename, res.FileSize, agent, res.DocumentID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to send along with the file")
	return cmd
}

func newDocumentsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "documents <group>",
		Aliases: []string{"docs"},
		Short:   "List documents uploaded to a group",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.resolveGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			docs, err := a.client.ListDocuments(cmd.Context(), g.ID)
			if err != nil {
				return fmt.Errorf("listing documents: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILE\tSIZE\tAGENT\tUPLOADED")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.ID, d.Filename, d.Size, d.TargetAgent, formatTime(d.CreatedAt))
			}
			return tw.Flush()
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <group>",
		Short: "Stop the running agent chain of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.resolveGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.client.StopChain(cmd.Context(), g.ID); err != nil {
				return fmt.Errorf("stopping chain: %w", err)
			}
			printOK(cmd.OutOrStdout(), "Stopped the chain in %s", g.Name)
			return nil
		},
	}
}
