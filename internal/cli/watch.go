// ABOUTME: watch subcommand: follow a group live through the sync engine
// ABOUTME: Prints new messages, chain progress, notices, and connection changes

package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-groups/internal/chain"
	"github.com/2389/coven-groups/internal/realtime"
	"github.com/2389/coven-groups/internal/store"
)

// follower turns engine updates into terminal lines.
type follower struct {
	w         io.Writer
	history   int
	primed    bool
	seen      map[string]struct{}
	loading   bool
	wasLoaded bool
	status    realtime.Status
}

func newFollower(w io.Writer, history int) *follower {
	return &follower{
		w:       w,
		history: history,
		seen:    make(map[string]struct{}),
	}
}

// view prints confirmed messages not printed before. The first view prints
// only the last history messages.
func (f *follower) view(v store.View) {
	var fresh []store.Message
	for _, m := range v.Messages {
		if m.IsPending() {
			continue
		}
		if _, ok := f.seen[m.ID]; ok {
			continue
		}
		f.seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}

	if !f.primed {
		f.primed = true
		if len(fresh) > f.history {
			fresh = fresh[len(fresh)-f.history:]
		}
	}
	for _, m := range fresh {
		printMessage(f.w, m)
	}
}

func (f *follower) signal(s chain.Signal) {
	switch s.State {
	case chain.Loading:
		f.loading = true
		f.wasLoaded = true
		who := "agents"
		if s.Agent != "" {
			who = "@" + s.Agent
		}
		fmt.Fprintln(f.w, color.YellowString("… %s working", who))
	case chain.Idle:
		if f.loading {
			fmt.Fprintln(f.w, color.HiBlackString("… chain idle"))
		}
		f.loading = false
	}
}

// done reports whether a chain ran and has since gone idle.
func (f *follower) done() bool {
	return f.wasLoaded && !f.loading
}

func (f *follower) notice(n realtime.Notice) {
	switch n.Kind {
	case realtime.NoticeUserMention:
		fmt.Fprintln(f.w, color.New(color.FgMagenta, color.Bold).Sprintf("★ %s", n.Text))
	default:
		fmt.Fprintln(f.w, color.RedString("! %s", n.Text))
	}
}

func (f *follower) conn(st realtime.ConnectionState) {
	if st.Status == f.status {
		return
	}
	f.status = st.Status
	switch st.Status {
	case realtime.StatusOpen:
		fmt.Fprintln(f.w, color.HiBlackString("connected"))
	case realtime.StatusError:
		fmt.Fprintln(f.w, color.HiBlackString("disconnected (retry %d): %s", st.RetryCount, st.LastError))
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		history   int
		untilIdle bool
	)

	cmd := &cobra.Command{
		Use:   "watch <group>",
		Short: "Follow a group live",
		Long:  "Follow a group live: new messages, agent chain progress, and mentions of you.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			g, err := a.resolveGroup(ctx, args[0])
			if err != nil {
				return err
			}

			eng, err := a.newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			views := eng.SubscribeMessages(ctx, g.ID)
			signals := eng.SubscribeSignals(ctx, g.ID)
			notices := eng.SubscribeNotices(ctx, g.ID)
			states := eng.SubscribeConnection(ctx, g.ID)

			if err := eng.SelectGroup(ctx, g.ID); err != nil {
				return fmt.Errorf("selecting group: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.New(color.Bold).Sprintf("Watching %s (Ctrl+C to stop)", g.Name))

			f := newFollower(cmd.OutOrStdout(), history)
			for {
				select {
				case <-ctx.Done():
					return nil
				case v, ok := <-views:
					if !ok {
						return nil
					}
					f.view(v)
				case s, ok := <-signals:
					if !ok {
						return nil
					}
					f.signal(s)
					if untilIdle && f.done() {
						return nil
					}
				case n, ok := <-notices:
					if !ok {
						return nil
					}
					f.notice(n)
				case st, ok := <-states:
					if !ok {
						return nil
					}
					f.conn(st)
				}
			}
		},
	}
	cmd.Flags().IntVar(&history, "history", 10, "number of earlier messages to show")
	cmd.Flags().BoolVar(&untilIdle, "until-idle", false, "exit once an agent chain finishes")
	return cmd
}
