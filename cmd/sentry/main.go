// Sentry screens text against content policies and returns a verdict of
// ALLOW, REVIEW, BLOCK or REDACTED.
//
// Detection runs in three tiers: regex rules, heuristic scoring and an
// optional structured LLM extractor. The decision engine turns the findings
// into a verdict, and sanitize calls mask the offending spans.
//
// Usage:
//
//	# Screen a single text
//	sentry check --agent support-bot --text "call me on 13800138000"
//
//	# Screen and redact
//	sentry sanitize --agent support-bot --file message.txt
//
//	# Screen a JSON batch with one LLM call per rule
//	sentry batch --agent support-bot --items items.json --format csv
//
//	# Show which policy version a caller gets
//	sentry policy resolve --policy 12 --route-key user-42
//
//	# Load a YAML catalog into the SQLite catalog
//	sentry policy import --file policies.yaml
//
//	# Query audit records
//	sentry audit query --verdict BLOCK --since 24h
//
//	# Run the operations endpoint with background maintenance
//	sentry serve
package main

import (
	"errors"
	"fmt"
	"os"

	"datasentry-hq/sentry/pkg/cli"
)

func main() {
	err := Execute()
	var exit *cli.ExitError
	if err != nil && !errors.As(err, &exit) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.ExitCode(err))
}
