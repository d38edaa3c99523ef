package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/config"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
)

// cliState is filled in before any subcommand runs.
type cliState struct {
	cfg    config.Config
	logger *slog.Logger
}

func NewRootCmd() *cobra.Command {
	st := &cliState{cfg: config.Default(), logger: slog.Default()}

	cmd := &cobra.Command{
		Use:   "outline",
		Short: "Collapsible heading outlines for rich-text documents.",
		Long: heredoc.Doc(`
			Outline builds the table of contents of a document, folds and unfolds
			heading sections, and navigates to headings the way an editor sidebar
			does.

			Configuration is read from OUTLINE_* environment variables.
		`),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			st.cfg = config.Load()
			if err := st.cfg.Validate(); err != nil {
				return err
			}
			st.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: st.cfg.LogLevel}))
			slog.SetDefault(st.logger)
			return nil
		},
	}

	cmd.AddCommand(
		NewCmdServe(st),
		NewCmdTOC(st),
		NewCmdNavigate(st),
		NewCmdRender(st),
		NewCmdWatch(st),
	)
	return cmd
}

// readDocument loads a document tree from JSON, or from Markdown when the
// file extension says so.
func readDocument(path string) (*document.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return document.FromMarkdown(raw), nil
	}
	doc, err := document.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// documentName derives a document id from a file name.
func documentName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
