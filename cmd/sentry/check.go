package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"datasentry-hq/sentry/pkg/cleaning"
	"datasentry-hq/sentry/pkg/cli"
	"datasentry-hq/sentry/pkg/pipeline"
)

// screenFlags are shared by check, sanitize and batch.
type screenFlags struct {
	agent     string
	scene     string
	policyID  int64
	traceID   string
	routeKey  string
	disableL3 bool
	format    string
	failOn    []string
}

func (f *screenFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.agent, "agent", "a", "", "agent id used for binding lookup and cost attribution")
	cmd.Flags().StringVar(&f.scene, "scene", "", "scene for scene-specific bindings")
	cmd.Flags().Int64VarP(&f.policyID, "policy", "p", 0, "screen under this policy id instead of the agent binding")
	cmd.Flags().StringVar(&f.traceID, "trace", "", "trace id for cost attribution")
	cmd.Flags().StringVar(&f.routeKey, "route-key", "", "gray routing key (default: agent id)")
	cmd.Flags().BoolVar(&f.disableL3, "disable-l3", false, "skip the LLM tier")
	cmd.Flags().StringVarP(&f.format, "format", "f", "text", "output format (text, json, csv)")
	cmd.Flags().StringSliceVar(&f.failOn, "fail-on", nil, "exit with status 3 when the verdict is one of these (e.g. BLOCK,REVIEW)")
}

func (f *screenFlags) policy() *int64 {
	if f.policyID <= 0 {
		return nil
	}
	id := f.policyID
	return &id
}

// exitFor returns an ExitError when any verdict matches --fail-on.
func (f *screenFlags) exitFor(verdicts ...pipeline.Verdict) error {
	for _, v := range verdicts {
		if slices.ContainsFunc(f.failOn, func(s string) bool { return strings.EqualFold(strings.TrimSpace(s), string(v)) }) {
			return &cli.ExitError{Code: 3, Reason: string(v)}
		}
	}
	return nil
}

var checkFlags struct {
	screenFlags
	text string
	file string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Screen a text and print the verdict",
	Long: `Screen one text under the policy bound to the agent (or --policy) and
print the verdict and risk categories.

The text comes from --text, --file, or standard input.

Examples:
  # Screen inline text
  sentry check --agent support-bot --text "my phone is 13800138000"

  # Screen a file under an explicit policy, without the LLM tier
  sentry check --policy 12 --file reply.txt --disable-l3

  # Fail a pipeline step when content is blocked
  echo "$REPLY" | sentry check --agent support-bot --fail-on BLOCK,REVIEW`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScreen(cmd, false)
	},
}

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Screen a text and print it with unsafe spans masked",
	Long: `Screen one text like check, then mask every finding span. A BLOCK
verdict whose spans were all masked is reported as REDACTED.

Examples:
  sentry sanitize --agent support-bot --text "call 13800138000 now"
  sentry sanitize --agent support-bot --file reply.txt --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScreen(cmd, true)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{checkCmd, sanitizeCmd} {
		checkFlags.register(cmd)
		cmd.Flags().StringVarP(&checkFlags.text, "text", "t", "", "text to screen")
		cmd.Flags().StringVar(&checkFlags.file, "file", "", "read the text from this file")
		cmd.MarkFlagsMutuallyExclusive("text", "file")
		rootCmd.AddCommand(cmd)
	}
}

func runScreen(cmd *cobra.Command, sanitize bool) error {
	format, err := cli.ParseFormat(checkFlags.format)
	if err != nil {
		return err
	}
	text, err := readText(cmd.InOrStdin(), checkFlags.text, checkFlags.file)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{pipeline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	req := cleaning.CheckRequest{
		TraceID:   checkFlags.traceID,
		AgentID:   checkFlags.agent,
		Scene:     checkFlags.scene,
		PolicyID:  checkFlags.policy(),
		RouteKey:  checkFlags.routeKey,
		DisableL3: checkFlags.disableL3,
		Text:      text,
	}

	var resp *cleaning.CheckResponse
	if sanitize {
		resp, err = a.service.Sanitize(ctx, req)
	} else {
		resp, err = a.service.Check(ctx, req)
	}
	if err != nil {
		return cli.NewCommandError(cmd.Name(), err)
	}

	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), checkResult{resp}); err != nil {
		return err
	}
	return checkFlags.exitFor(resp.Verdict)
}

// readText returns the inline text, the file contents or standard input,
// in that order of preference.
func readText(stdin io.Reader, text, file string) (string, error) {
	switch {
	case text != "":
		return text, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if len(data) == 0 {
			return "", cli.NewConfigError("text", "no text given (use --text, --file or stdin)")
		}
		return string(data), nil
	}
}
