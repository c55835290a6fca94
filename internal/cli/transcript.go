// ABOUTME: transcript subcommand: export a group conversation as HTML
// ABOUTME: Writes to a file with --out or to stdout

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/coven-groups/internal/transcript"
)

func newTranscriptCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "transcript <group>",
		Short: "Export a group conversation as HTML",
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

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("creating %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			if err := transcript.New().Render(w, g, msgs); err != nil {
				return err
			}
			if out != "" && out != "-" {
				printOK(cmd.ErrOrStderr(), "Wrote %d messages to %s", len(msgs), out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
