package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/session"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/surface/chrome"
)

type navigateOptions struct {
	width   float64
	height  float64
	header  float64
	browser bool
}

func NewCmdNavigate(st *cliState) *cobra.Command {
	opts := &navigateOptions{}
	cmd := &cobra.Command{
		Use:   "navigate [file] [heading-id]",
		Short: "Show where activating a heading scrolls to.",
		Long: heredoc.Doc(`
			Activate a heading the way a click in the outline would: expand the
			collapsed sections hiding it, place the cursor inside it and scroll
			its container so the heading sits near the top of the viewport.

			The document is laid out in memory unless --browser is given, in
			which case it is rendered in headless Chrome.
		`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNavigate(cmd, st, opts, args[0], args[1])
		},
	}
	cmd.Flags().Float64Var(&opts.width, "width", 1280, "Viewport width in CSS pixels")
	cmd.Flags().Float64Var(&opts.height, "height", 800, "Viewport height in CSS pixels")
	cmd.Flags().Float64Var(&opts.header, "header", 0, "Fixed header height above the editor pane (in-memory layout only)")
	cmd.Flags().BoolVar(&opts.browser, "browser", false, "Render in headless Chrome")
	return cmd
}

func runNavigate(cmd *cobra.Command, st *cliState, opts *navigateOptions, path, headingID string) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	var (
		surf surface.Surface
		pane surface.Element
	)
	if opts.browser {
		cs, err := chrome.New(commandContext(cmd), chrome.Options{
			Width:  int64(opts.width),
			Height: int64(opts.height),
			Title:  documentName(path),
			Logger: st.logger,
		})
		if err != nil {
			return err
		}
		defer cs.Close()
		surf = cs
	} else {
		static := surface.NewStatic(nil, surface.LayoutOptions{
			ViewportWidth:  opts.width,
			ViewportHeight: opts.height,
			HeaderHeight:   opts.header,
		})
		surf, pane = static, static.Pane()
	}

	cfg := st.cfg
	sess, err := session.Open(doc, surf, session.Options{
		DocumentID: documentName(path),
		Config:     &cfg,
		Logger:     st.logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if sess.Outline().Index(headingID) < 0 {
		return fmt.Errorf("heading %q not found in %s", headingID, path)
	}
	res, ok := sess.Activate(commandContext(cmd), headingID)
	if !ok {
		return errors.New("heading is not rendered")
	}

	container := "editor"
	switch res.Container {
	case surf.Root():
		container = "root"
	case pane:
		container = "pane"
	}
	expanded := "-"
	if len(res.Expanded) > 0 {
		expanded = strings.Join(res.Expanded, ",")
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "heading:   %s\n", res.ID)
	fmt.Fprintf(out, "expanded:  %s\n", expanded)
	fmt.Fprintf(out, "selection: %d\n", res.Selection)
	fmt.Fprintf(out, "container: %s\n", container)
	fmt.Fprintf(out, "scrollTop: %.1f\n", res.ScrollTop)
	return nil
}
