package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"datasentry-hq/sentry/pkg/audit"
	"datasentry-hq/sentry/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query, export and prune audit records",
}

var auditFlags struct {
	since     time.Duration
	start     string
	end       string
	requestID string
	agent     string
	policyID  int64
	verdict   string
	operation string
	category  string
	status    string
	limit     int
	offset    int
	sortBy    string
	sortOrder string
	format    string
	output    string
	days      int
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List audit records matching the filters",
	Long: `List audit records. Time bounds come from --since or from --start and
--end in RFC 3339.

Examples:
  sentry audit query --verdict BLOCK --since 24h
  sentry audit query --agent support-bot --category PII_PHONE --format json`,
	RunE: runAuditQuery,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records as JSON or CSV",
	Long: `Export audit records matching the filters.

Examples:
  sentry audit export --since 168h --format csv --output week.csv`,
	RunE: runAuditExport,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit records older than the retention period",
	Long: `Delete audit records older than --days (default: audit.retention_days).

Examples:
  sentry audit prune --days 30`,
	RunE: runAuditPrune,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd, auditExportCmd, auditPruneCmd)

	for _, cmd := range []*cobra.Command{auditQueryCmd, auditExportCmd} {
		f := cmd.Flags()
		f.DurationVar(&auditFlags.since, "since", 0, "only records newer than this (e.g. 24h)")
		f.StringVar(&auditFlags.start, "start", "", "start time (RFC 3339)")
		f.StringVar(&auditFlags.end, "end", "", "end time (RFC 3339)")
		f.StringVar(&auditFlags.requestID, "request-id", "", "filter by request id")
		f.StringVarP(&auditFlags.agent, "agent", "a", "", "filter by agent id")
		f.Int64VarP(&auditFlags.policyID, "policy", "p", 0, "filter by policy id")
		f.StringVar(&auditFlags.verdict, "verdict", "", "filter by verdict")
		f.StringVar(&auditFlags.operation, "operation", "", "filter by operation (check, sanitize, batch)")
		f.StringVar(&auditFlags.category, "category", "", "filter by risk category")
		f.StringVar(&auditFlags.status, "status", "", "filter by status (success, error)")
		f.IntVar(&auditFlags.limit, "limit", 0, "maximum records to return")
		f.IntVar(&auditFlags.offset, "offset", 0, "records to skip")
		f.StringVar(&auditFlags.sortBy, "sort-by", "", "sort field (request_time, duration, max_severity)")
		f.StringVar(&auditFlags.sortOrder, "sort-order", "", "sort order (asc, desc)")
	}
	auditQueryCmd.Flags().StringVarP(&auditFlags.format, "format", "f", "text", "output format (text, json, csv)")
	auditExportCmd.Flags().StringVarP(&auditFlags.format, "format", "f", "json", "export format (json, csv)")
	auditExportCmd.Flags().StringVarP(&auditFlags.output, "output", "o", "", "write to this file instead of stdout")
	auditPruneCmd.Flags().IntVar(&auditFlags.days, "days", 0, "retention in days (default: audit.retention_days)")
}

// buildQuery turns the filter flags into a validated audit query.
func buildQuery(now time.Time) (*audit.Query, error) {
	q := &audit.Query{
		RequestID: auditFlags.requestID,
		AgentID:   auditFlags.agent,
		Verdict:   strings.ToUpper(auditFlags.verdict),
		Operation: auditFlags.operation,
		Category:  auditFlags.category,
		Status:    auditFlags.status,
		Limit:     auditFlags.limit,
		Offset:    auditFlags.offset,
		SortBy:    auditFlags.sortBy,
		SortOrder: auditFlags.sortOrder,
	}
	if auditFlags.policyID > 0 {
		id := auditFlags.policyID
		q.PolicyID = &id
	}

	if auditFlags.since > 0 {
		start := now.Add(-auditFlags.since)
		q.StartTime = &start
	}
	if auditFlags.start != "" {
		t, err := time.Parse(time.RFC3339, auditFlags.start)
		if err != nil {
			return nil, cli.NewConfigError("start", err.Error())
		}
		q.StartTime = &t
	}
	if auditFlags.end != "" {
		t, err := time.Parse(time.RFC3339, auditFlags.end)
		if err != nil {
			return nil, cli.NewConfigError("end", err.Error())
		}
		q.EndTime = &t
	}

	q.ApplyDefaults()
	if err := q.Validate(); err != nil {
		return nil, cli.NewConfigError("query", err.Error())
	}
	return q, nil
}

// openAuditApp opens audit storage, failing when auditing is disabled.
func openAuditApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if !cfg.Audit.Enabled {
		return nil, cli.NewConfigError("audit.enabled", "auditing is disabled")
	}
	return newApp(cmd.Context(), cfg, appOptions{auditOnly: true})
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(auditFlags.format)
	if err != nil {
		return err
	}
	q, err := buildQuery(time.Now())
	if err != nil {
		return err
	}
	a, err := openAuditApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.auditStorage.Query(cmd.Context(), q)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	total, err := a.auditStorage.Count(cmd.Context(), q)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), recordList{Records: records, Total: total})
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	exporter, ok := audit.NewExporter(auditFlags.format)
	if !ok {
		return cli.NewConfigError("format", fmt.Sprintf("unsupported export format %q (json, csv)", auditFlags.format))
	}
	q, err := buildQuery(time.Now())
	if err != nil {
		return err
	}
	a, err := openAuditApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.auditStorage.Query(cmd.Context(), q)
	if err != nil {
		return cli.NewCommandError("audit export", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if auditFlags.output != "" {
		f, err := os.Create(auditFlags.output)
		if err != nil {
			return cli.NewCommandError("audit export", err)
		}
		defer f.Close()
		w = f
	}
	if err := exporter.Export(cmd.Context(), records, w); err != nil {
		return cli.NewCommandError("audit export", err)
	}
	if auditFlags.output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "exported %d records to %s\n", len(records), auditFlags.output)
	}
	return nil
}

func runAuditPrune(cmd *cobra.Command, args []string) error {
	a, err := openAuditApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	days := auditFlags.days
	if days <= 0 {
		days = a.cfg.Audit.RetentionDays
	}
	if days <= 0 {
		return cli.NewConfigError("days", "retention must be at least one day")
	}
	deleted, err := audit.NewPruner(a.auditStorage, days, "", a.logger).Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("audit prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records older than %d days\n", deleted, days)
	return nil
}

// recordList renders query results.
type recordList struct {
	Records []*audit.Record `json:"records"`
	Total   int64           `json:"total"`
}

func (l recordList) Text() string {
	var b strings.Builder
	for _, r := range l.Records {
		fmt.Fprintf(&b, "%s  %-8s %-9s policy %-4d %-14s %s\n",
			r.RequestTime.Local().Format(time.DateTime), r.Operation, r.Verdict, r.PolicyID,
			r.AgentID, joinOrDash(r.Categories))
	}
	fmt.Fprintf(&b, "%d of %d records\n", len(l.Records), l.Total)
	return b.String()
}

func (l recordList) Header() []string {
	return []string{"request_time", "request_id", "agent_id", "operation", "policy_id", "verdict", "categories", "max_severity"}
}

func (l recordList) Rows() [][]string {
	rows := make([][]string, len(l.Records))
	for i, r := range l.Records {
		rows[i] = []string{
			r.RequestTime.UTC().Format(time.RFC3339), r.RequestID, r.AgentID, r.Operation,
			fmt.Sprint(r.PolicyID), r.Verdict, strings.Join(r.Categories, ";"), fmt.Sprintf("%.2f", r.MaxSeverity),
		}
	}
	return rows
}
