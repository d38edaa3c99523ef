package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/collapse"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/document"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/session"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface/chrome"
)

type renderOptions struct {
	page bool
	pdf  string
}

func NewCmdRender(st *cliState) *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render [file]",
		Short: "Render a document to HTML or PDF with collapsed sections hidden.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			if opts.pdf != "" {
				return renderPDF(cmd, st, doc, documentName(args[0]), opts.pdf)
			}
			if n, err := doc.EnsureHeadingIDs(nil); err != nil {
				return err
			} else if n > 0 {
				st.logger.Debug("assigned heading ids", "count", n)
			}
			collapse.RecomputeVisibility(doc)

			out := chrome.RenderHTML(doc)
			if opts.page {
				if out, err = chrome.RenderPage(documentName(args[0]), doc); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.page, "page", false, "Wrap the document in a full page with a header and scrolling editor pane")
	cmd.Flags().StringVar(&opts.pdf, "pdf", "", "Print to this PDF file with headless Chrome")
	return cmd
}

func renderPDF(cmd *cobra.Command, st *cliState, doc *document.Document, title, path string) error {
	cs, err := chrome.New(commandContext(cmd), chrome.Options{Title: title, Logger: st.logger})
	if err != nil {
		return err
	}
	defer cs.Close()

	cfg := st.cfg
	sess, err := session.Open(doc, cs, session.Options{DocumentID: title, Config: &cfg, Logger: st.logger})
	if err != nil {
		return err
	}
	defer sess.Close()

	data, err := cs.PrintPDF()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(data))
	return nil
}
