package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/app"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/docstore"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/events"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/outline"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/relay"
)

var errRelayRequired = errors.New("watch needs OUTLINE_REDIS_URL")

func NewCmdWatch(st *cliState) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch [document-id]",
		Short: "Follow collapse changes made to a stored document elsewhere.",
		Long: heredoc.Doc(`
			Open a document from OUTLINE_REPOS_DIR, join its toggle channel on
			OUTLINE_REDIS_URL and print every heading that another process
			collapses or expands, until interrupted.
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(st.cfg.RedisURL) == "" {
				return errRelayRequired
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), st, args[0], interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "How often queued toggles are applied")
	return cmd
}

func runWatch(ctx context.Context, w io.Writer, st *cliState, documentID string, interval time.Duration) error {
	bus := events.NewBus(st.logger)
	r, err := relay.NewRedisRelay(st.cfg.RedisURL, bus, st.logger)
	if err != nil {
		return fmt.Errorf("connect toggle relay: %w", err)
	}
	defer r.Close()

	svc, err := app.NewService(app.Options{
		Config: st.cfg,
		Store:  docstore.New(st.cfg.ReposDir),
		Bus:    bus,
		Relay:  r,
		Logger: st.logger,
	})
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	prev, err := svc.Outline(ctx, documentID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "watching %s (%d headings)\n", documentID, len(prev))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		next, err := svc.Outline(ctx, documentID)
		if err != nil {
			return err
		}
		printToggles(w, prev, next)
		prev = next
	}
}

// printToggles writes one line per heading whose collapsed state differs.
func printToggles(w io.Writer, prev, next outline.Snapshot) {
	for _, h := range next {
		before, ok := prev.Get(h.ID)
		if !ok || before.Collapsed == h.Collapsed {
			continue
		}
		verb := "expanded"
		if h.Collapsed {
			verb = "collapsed"
		}
		fmt.Fprintf(w, "%s %s [%s]\n", verb, h.Text, h.ID)
	}
}
