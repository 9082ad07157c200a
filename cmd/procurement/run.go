package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/procurement/commbus"
	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/envelope"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
)

type runOptions struct {
	render  bool
	json    bool
	quiet   bool
	timeout time.Duration
	width   int
}

func newRunCmd(c *cli) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [request.json|-]",
		Short: "Run one procurement request",
		Long: `Reads a procurement request as JSON from a file or stdin, runs it to a
terminal state and prints the outcome. Progress is written to stderr.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return c.run(cmd.Context(), path, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.render, "render", false, "Render the generated RFP as formatted markdown")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the full run state as JSON")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print progress")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Cancel the run after this long (0 disables)")
	cmd.Flags().IntVar(&opts.width, "width", 100, "Word wrap width for --render")
	return cmd
}

func (c *cli) run(ctx context.Context, path string, opts *runOptions) error {
	req, err := c.readRequest(path)
	if err != nil {
		return err
	}

	s, err := c.settings()
	if err != nil {
		return err
	}
	logger := c.logger(s)
	app, err := NewApp(s, logger, c.newGenerator)
	if err != nil {
		return err
	}

	if !opts.quiet && !opts.json {
		detach := commbus.NewProgressPrinter(c.stderr).Attach(app.Bus)
		defer detach()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	state := app.Engine.Execute(ctx, req)

	if opts.json {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(state); err != nil {
			return err
		}
	} else {
		printSummary(c.stdout, state)
		if opts.render {
			if err := renderDocument(c.stdout, state, opts.width); err != nil {
				return err
			}
		}
	}

	if state.Status() == kernel.StatusFailed {
		return fmt.Errorf("run %s failed: %v", state.RunID(), state.Cause())
	}
	return nil
}

// readRequest decodes a request from path, or stdin when path is "-".
func (c *cli) readRequest(path string) (domain.ProcurementRequest, error) {
	var req domain.ProcurementRequest
	var r io.Reader = c.stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return req, fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func printSummary(w io.Writer, state *envelope.RunState) {
	fmt.Fprintf(w, "Run:    %s\n", state.RunID())
	fmt.Fprintf(w, "Status: %s\n", state.Status())
	if c, ok := state.Classification(); ok {
		fmt.Fprintf(w, "Category: %s (confidence %.2f)\n", c.Category.DisplayName(), c.Confidence)
	}
	if a, ok := state.Approval(); ok {
		fmt.Fprintf(w, "Decision: %s\n", a.Outcome)
		for _, issue := range a.Issues {
			fmt.Fprintf(w, "  - %s\n", issue)
		}
	}
	if cause := state.Cause(); cause != nil {
		fmt.Fprintf(w, "Cause:  %s\n", cause.Error())
	}
	for _, ev := range state.PostTerminal() {
		result := "ok"
		if !ev.Succeeded {
			result = "failed: " + ev.Error
		}
		fmt.Fprintf(w, "%s via %s: %s\n", ev.Kind, ev.Target, result)
	}
}

func renderDocument(w io.Writer, state *envelope.RunState, width int) error {
	doc, ok := state.Document()
	if !ok {
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := r.Render(doc.Markdown())
	if err != nil {
		return fmt.Errorf("render rfp: %w", err)
	}
	_, err = io.WriteString(w, "\n"+strings.TrimRight(out, "\n")+"\n")
	return err
}
