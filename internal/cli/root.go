// ABOUTME: Root cobra command for coven-groups and shared per-invocation setup
// ABOUTME: Loads config, builds the logger, token source, REST client, and sync engine

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/2389/coven-groups/internal/auth"
	"github.com/2389/coven-groups/internal/client"
	"github.com/2389/coven-groups/internal/config"
	"github.com/2389/coven-groups/internal/realtime"
	"github.com/2389/coven-groups/internal/store"
)

// version is set at build time with
// -ldflags "-X github.com/2389/coven-groups/internal/cli.version=...".
var version = "dev"

// app holds what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	serverURL  string
	token      string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
	client *client.Client
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "coven-groups",
		Short:         "Work with multi-agent conversation groups",
		Long:          "Create groups of agents, talk to them, and follow agent chains live.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/coven/groups.yaml)")
	flags.StringVar(&a.serverURL, "server", "", "backend API base URL, overrides server.base_url")
	flags.StringVar(&a.token, "token", "", "bearer token, overrides auth.token")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newGroupsCmd(a),
		newAgentsCmd(a),
		newMessagesCmd(a),
		newSendCmd(a),
		newUploadCmd(a),
		newDocumentsCmd(a),
		newStopCmd(a),
		newWatchCmd(a),
		newTranscriptCmd(a),
		newChatCmd(a),
	)
	return root
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM arrives.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "%s %v\n", color.RedString("Error:"), err)
		return err
	}
	return nil
}

func (a *app) setup(cmd *cobra.Command) error {
	path := config.ResolvePath(a.configPath)
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.serverURL != "" {
		cfg.Server.BaseURL = a.serverURL
	}
	if a.token != "" {
		cfg.Auth.Token = a.token
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}

	a.cfg = cfg
	a.logger = setupLogger(cfg.Logging, cmd.ErrOrStderr())
	a.logger.Debug("config loaded", "path", path, "base_url", cfg.Server.BaseURL)

	c, err := client.New(client.Options{
		BaseURL: cfg.Server.BaseURL,
		Timeout: cfg.Server.RequestTimeout,
		Tokens:  auth.NewTokenSource(cfg.Auth.Token, cfg.Auth.TokenFile),
		Logger:  a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	a.client = c
	return nil
}

// newEngine builds a sync engine from the sync section of the config.
func (a *app) newEngine() (*realtime.Engine, error) {
	s := a.cfg.Sync
	return realtime.NewEngine(realtime.Options{
		API:     a.client,
		Streams: realtime.ClientStreams(a.client),
		Sender:  s.Sender,
		Backoff: realtime.Backoff{
			Base: s.BackoffBase,
			Max:  s.BackoffMax,
		},
		MaxRetries:        s.MaxRetries,
		ChainDebounce:     s.ChainDebounce,
		SendRefetchDelay:  s.SendRefetchDelay,
		RefetchRate:       rate.Limit(s.RefetchRate),
		RefetchBurst:      s.RefetchBurst,
		ReconcileSkew:     s.ReconcileSkew,
		PendingStaleAfter: s.PendingStaleAfter,
		DedupeTTL:         s.DedupeTTL,
		Logger:            a.logger,
	})
}

// resolveGroup accepts a group id or a case-insensitive group name.
func (a *app) resolveGroup(ctx context.Context, ref string) (store.Group, error) {
	groups, err := a.client.ListGroups(ctx)
	if err != nil {
		return store.Group{}, fmt.Errorf("listing groups: %w", err)
	}
	for _, g := range groups {
		if g.ID == ref {
			return g, nil
		}
	}
	var matches []store.Group
	for _, g := range groups {
		if strings.EqualFold(g.Name, ref) {
			matches = append(matches, g)
		}
	}
	switch len(matches) {
	case 0:
		return store.Group{}, fmt.Errorf("group %q not found", ref)
	case 1:
		return matches[0], nil
	default:
		return store.Group{}, fmt.Errorf("group name %q is ambiguous, use its id", ref)
	}
}

func printOK(w io.Writer, format string, args ...any) {
	fmt.Fprint(w, color.GreenString("    ▶ "))
	fmt.Fprintf(w, format+"\n", args...)
}
