// Command ask is a terminal client for the member-qa API.
//
//	ask "Which seat does Layla prefer?"
//	ask health --url http://localhost:8000
//	ask -i
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/member-qa/engine/domain"
	"github.com/WessleyAI/member-qa/pkg/qaclient"
)

const defaultURL = "http://localhost:8000"

type options struct {
	url           string
	minConfidence float64
	json          bool
	interactive   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about member messages",
		Long: `ask sends a natural-language question to a member-qa server and prints
the best matching member message, a confidence badge and the sources.

Examples:
  ask "Which seat does Layla prefer?"
  ask "Who wants to fly to Tokyo?" --min-confidence 0.5 --json
  ask -i                          # interactive session with history`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.interactive {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.interactive {
				return runInteractive(cmd.Context(), cmd.InOrStdin(), out, opts)
			}
			return runAsk(cmd.Context(), out, opts, strings.Join(args, " "))
		},
	}
	root.PersistentFlags().StringVar(&opts.url, "url", envOr("MEMBER_QA_URL", defaultURL), "member-qa server URL")
	root.Flags().Float64Var(&opts.minConfidence, "min-confidence", 0.3, "warn when confidence is below this")
	root.Flags().BoolVar(&opts.json, "json", false, "print the raw JSON answer")
	root.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "read questions from stdin until quit")

	root.AddCommand(&cobra.Command{
		Use:          "health",
		Short:        "Check that the server is reachable",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := qaclient.New(opts.url).Health(cmd.Context()); err != nil {
				return describe(err, opts.url)
			}
			fmt.Fprintf(out, "%s connected to %s\n", color.GreenString("✓"), opts.url)
			return nil
		},
	})
	return root
}

func runAsk(ctx context.Context, out io.Writer, opts *options, question string) error {
	ans, err := qaclient.New(opts.url).Ask(ctx, question)
	if err != nil {
		return describe(err, opts.url)
	}
	return show(out, ans, opts)
}

// runInteractive checks connectivity once, then answers one question per
// line. "history" lists the questions asked so far; "quit" or EOF ends the
// session. A failed ask is reported and the session continues.
func runInteractive(ctx context.Context, in io.Reader, out io.Writer, opts *options) error {
	client := qaclient.New(opts.url)
	if err := client.Health(ctx); err != nil {
		return describe(err, opts.url)
	}
	fmt.Fprintf(out, "%s connected to %s. Type a question, \"history\" or \"quit\".\n", color.GreenString("✓"), opts.url)

	var history []string
	sc := bufio.NewScanner(in)
	for ctx.Err() == nil {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "history":
			printHistory(out, history)
			continue
		}

		history = append(history, line)
		ans, err := client.Ask(ctx, line)
		if err != nil {
			describe(err, opts.url)
			continue
		}
		if err := show(out, ans, opts); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	return sc.Err()
}

func printHistory(out io.Writer, history []string) {
	if len(history) == 0 {
		fmt.Fprintln(out, "no questions yet")
		return
	}
	for i, q := range history {
		fmt.Fprintf(out, "  %d. %s\n", i+1, q)
	}
}

func show(out io.Writer, ans *domain.Answer, opts *options) error {
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	printAnswer(out, ans, opts.minConfidence)
	return nil
}

func printAnswer(out io.Writer, ans *domain.Answer, minConfidence float64) {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(out, "%s\n%s\n\n", bold("Answer"), ans.Answer)
	fmt.Fprintf(out, "%s %s\n", bold("Confidence"), badge(ans.Confidence))
	if ans.Confidence < minConfidence {
		color.New(color.FgYellow).Fprintf(out, "! confidence %.0f%% is below the %.0f%% threshold; the result may not be relevant\n",
			ans.Confidence*100, minConfidence*100)
	}
	if len(ans.Sources) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s (%d)\n", bold("Sources"), len(ans.Sources))
	for i, s := range ans.Sources {
		fmt.Fprintf(out, "  %d. %s\n", i+1, s)
	}
}

// badge renders confidence as a percentage coloured by band.
func badge(confidence float64) string {
	text := fmt.Sprintf("%.1f%%", confidence*100)
	switch {
	case confidence > 0.7:
		return color.New(color.FgGreen, color.Bold).Sprint(text)
	case confidence > 0.4:
		return color.New(color.FgYellow, color.Bold).Sprint(text)
	default:
		return color.New(color.FgRed, color.Bold).Sprint(text)
	}
}

// describe turns client errors into a message for the terminal.
func describe(err error, url string) error {
	var se *qaclient.StatusError
	switch {
	case errors.As(err, &se):
		err = fmt.Errorf("server error %d: %s", se.Code, se.Detail)
	case errors.Is(err, qaclient.ErrTimeout):
		err = fmt.Errorf("request to %s timed out", url)
	case errors.Is(err, qaclient.ErrUnreachable):
		err = fmt.Errorf("cannot connect to %s; is the server running?", url)
	}
	fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
	return err
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
