package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/outline"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/session"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface"
)

type tocOptions struct {
	collapse []string
	expand   []string
	json     bool
}

func NewCmdTOC(st *cliState) *cobra.Command {
	opts := &tocOptions{}
	cmd := &cobra.Command{
		Use:   "toc [file]",
		Short: "Print the outline of a document.",
		Long: heredoc.Doc(`
			Print the table of contents of a JSON document tree or a Markdown
			file. Collapsed headings are marked with +, and headings folded away
			inside a collapsed section are marked hidden.

			Example:
			  outline toc notes.json --collapse h-setup
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTOC(cmd, st, opts, args[0])
		},
	}
	cmd.Flags().StringSliceVar(&opts.collapse, "collapse", nil, "Heading ids to collapse before printing")
	cmd.Flags().StringSliceVar(&opts.expand, "expand", nil, "Heading ids to expand before printing")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the outline as JSON")
	return cmd
}

func runTOC(cmd *cobra.Command, st *cliState, opts *tocOptions, path string) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	cfg := st.cfg
	sess, err := session.Open(doc, surface.NewStatic(nil, surface.LayoutOptions{}), session.Options{
		DocumentID: documentName(path),
		Config:     &cfg,
		Logger:     st.logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := commandContext(cmd)
	for _, id := range opts.collapse {
		if _, err := sess.SetCollapsed(ctx, id, true); err != nil {
			return err
		}
	}
	for _, id := range opts.expand {
		if _, err := sess.SetCollapsed(ctx, id, false); err != nil {
			return err
		}
	}
	sess.Tick()

	if opts.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sess.Outline())
	}
	return printOutline(cmd.OutOrStdout(), doc, sess.Outline())
}

func printOutline(w io.Writer, doc *document.Document, snap outline.Snapshot) error {
	if len(snap) == 0 {
		_, err := fmt.Fprintln(w, "(no headings)")
		return err
	}
	for _, h := range snap {
		marker := "-"
		if h.Collapsed {
			marker = "+"
		}
		line := fmt.Sprintf("%s%s %s [%s]", strings.Repeat("  ", max(h.Level-1, 0)), marker, h.Text, h.ID)
		if node, _, ok := doc.FindHeading(h.ID); ok && node.Hidden() {
			line += " (hidden)"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
