package main

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"datasentry-hq/sentry/pkg/allowlist"
	"datasentry-hq/sentry/pkg/catalog"
	"datasentry-hq/sentry/pkg/cli"
	"datasentry-hq/sentry/pkg/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect, validate and import policies",
}

var policyFlags struct {
	policyID  int64
	agent     string
	scene     string
	routeKey  string
	file      string
	versionID int64
	ratio     float64
	format    string
}

var policyResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show the policy snapshot a caller would be screened under",
	Long: `Resolve a policy snapshot the same way check does: by --policy, or by
the binding of --agent and --scene. With governance enabled, --route-key
decides between the published and the gray version.

Examples:
  sentry policy resolve --policy 12 --route-key user-42
  sentry policy resolve --agent support-bot --scene refunds --format json`,
	RunE: runPolicyResolve,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a YAML policy catalog",
	Long: `Parse a YAML policy catalog, compile every regex rule and allowlist
pattern, and check that each binding points at a known policy.

Examples:
  sentry policy validate --file policies.yaml`,
	RunE: runPolicyValidate,
}

var policyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace the SQLite catalog with a YAML policy catalog",
	Long: `Validate a YAML policy catalog and write it to the SQLite catalog in a
single transaction. The previous contents are replaced.

Examples:
  sentry policy import --file policies.yaml`,
	RunE: runPolicyImport,
}

var policyGrayCmd = &cobra.Command{
	Use:   "gray",
	Short: "Set the gray ratio of a candidate version in the SQLite catalog",
	Long: `Record a gray ticket for a candidate version. The newest ticket wins;
a ratio of 0 routes every caller to the published version.

Examples:
  sentry policy gray --policy 12 --version 101 --ratio 0.1`,
	RunE: runPolicyGray,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyResolveCmd, policyValidateCmd, policyImportCmd, policyGrayCmd)

	policyResolveCmd.Flags().Int64VarP(&policyFlags.policyID, "policy", "p", 0, "policy id")
	policyResolveCmd.Flags().StringVarP(&policyFlags.agent, "agent", "a", "", "agent id for binding lookup")
	policyResolveCmd.Flags().StringVar(&policyFlags.scene, "scene", "", "scene for binding lookup")
	policyResolveCmd.Flags().StringVar(&policyFlags.routeKey, "route-key", "", "gray routing key (default: agent id)")
	policyResolveCmd.Flags().StringVarP(&policyFlags.format, "format", "f", "text", "output format (text, json)")

	for _, cmd := range []*cobra.Command{policyValidateCmd, policyImportCmd} {
		cmd.Flags().StringVar(&policyFlags.file, "file", "", "YAML catalog (default: policy.file_path)")
	}

	policyGrayCmd.Flags().Int64VarP(&policyFlags.policyID, "policy", "p", 0, "policy id")
	policyGrayCmd.Flags().Int64Var(&policyFlags.versionID, "version", 0, "candidate version id")
	policyGrayCmd.Flags().Float64Var(&policyFlags.ratio, "ratio", 0, "share of route keys sent to the candidate, in [0,1]")
	_ = policyGrayCmd.MarkFlagRequired("policy")
	_ = policyGrayCmd.MarkFlagRequired("version")
}

func runPolicyResolve(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(policyFlags.format)
	if err != nil {
		return err
	}
	if policyFlags.policyID <= 0 && policyFlags.agent == "" {
		return cli.NewConfigError("policy", "either --policy or --agent is required")
	}

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{policy: true})
	if err != nil {
		return err
	}
	defer a.Close()

	policyID := policyFlags.policyID
	if policyID <= 0 {
		b, err := policy.ResolveBinding(ctx, a.bindings, policyFlags.agent, cfg.Pipeline.BindingType, policyFlags.scene)
		if err != nil {
			return cli.NewCommandError("policy resolve", err)
		}
		policyID = b.PolicyID
	}
	key := policyFlags.routeKey
	if key == "" {
		key = policyFlags.agent
	}

	resolver := policy.NewResolver(a.store, policy.ResolverConfig{
		GovernanceEnabled: cfg.Policy.GovernanceEnabled,
		Logger:            a.logger,
	})
	snap, err := resolver.Resolve(ctx, policyID, key)
	if err != nil {
		return cli.NewCommandError("policy resolve", err)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), snapshotView{snap})
}

// snapshotView renders a resolved snapshot.
type snapshotView struct {
	*policy.Snapshot
}

func (v snapshotView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Policy:     %d %s\n", v.PolicyID, v.Name)
	if v.VersionNo != nil {
		fmt.Fprintf(&b, "Version:    %d (%s)\n", *v.VersionNo, v.VersionStatus)
	} else {
		fmt.Fprintf(&b, "Version:    - (ungoverned)\n")
	}
	c := v.Config
	fmt.Fprintf(&b, "Thresholds: block %.2f, review %.2f, l2 %.2f\n", c.BlockThreshold, c.ReviewThreshold, c.L2Threshold)
	fmt.Fprintf(&b, "LLM tier:   %t (outbound sanitize %t)\n", c.LLMEnabled, c.OutboundSanitizeEnabled)
	fmt.Fprintf(&b, "Rules:\n")
	for _, r := range v.Rules {
		fmt.Fprintf(&b, "  %-6d %-10s %-24s priority %d\n", r.ID, r.Type, r.Category, r.Priority)
	}
	return b.String()
}

// catalogReport summarizes a validated catalog.
type catalogReport struct {
	Path       string   `json:"path"`
	Policies   int      `json:"policies"`
	Rules      int      `json:"rules"`
	Versions   int      `json:"versions"`
	Bindings   int      `json:"bindings"`
	Allowlists int      `json:"allowlists"`
	Problems   []string `json:"problems,omitempty"`
}

func (r catalogReport) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d policies, %d rules, %d versions, %d bindings, %d allowlist entries\n",
		r.Path, r.Policies, r.Rules, r.Versions, r.Bindings, r.Allowlists)
	for _, p := range r.Problems {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	return b.String()
}

// loadCatalog parses and checks the YAML catalog at path. Structural problems
// are returned as an error; rule and binding problems are collected in the
// report.
func loadCatalog(path string) (policy.Catalog, []allowlist.Entry, catalogReport, error) {
	report := catalogReport{Path: path}
	cat, err := policy.LoadCatalogFile(path)
	if err != nil {
		return cat, nil, report, err
	}
	src, err := allowlist.LoadFile(path)
	if err != nil {
		return cat, nil, report, err
	}
	entries := src.Entries()

	report.Policies = len(cat.Policies)
	report.Versions = len(cat.Versions)
	report.Bindings = len(cat.Bindings)
	report.Allowlists = len(entries)

	known := make(map[int64]bool, len(cat.Policies))
	for _, p := range cat.Policies {
		known[p.ID] = true
	}
	for policyID, rules := range cat.Rules {
		report.Rules += len(rules)
		for _, r := range rules {
			if r.Type != policy.RuleTypeRegex {
				continue
			}
			pattern, _ := r.ConfigMap()["pattern"].(string)
			if pattern == "" {
				continue
			}
			if _, err := regexp.Compile(pattern); err != nil {
				report.Problems = append(report.Problems, fmt.Sprintf("policy %d rule %d: %v", policyID, r.ID, err))
			}
		}
	}
	for _, b := range cat.Bindings {
		if !known[b.PolicyID] {
			report.Problems = append(report.Problems, fmt.Sprintf("binding %s/%s/%s: unknown policy %d", b.AgentID, b.Type, b.Scene, b.PolicyID))
		}
	}
	for _, v := range cat.Versions {
		if !known[v.PolicyID] {
			report.Problems = append(report.Problems, fmt.Sprintf("version %d: unknown policy %d", v.ID, v.PolicyID))
		}
	}

	matcher, err := allowlist.NewMatcher(nil)
	if err != nil {
		return cat, entries, report, err
	}
	for _, e := range entries {
		if err := matcher.Validate(e); err != nil {
			report.Problems = append(report.Problems, "allowlist "+err.Error())
		}
	}
	return cat, entries, report, nil
}

func catalogPath(cmd *cobra.Command) (string, error) {
	if policyFlags.file != "" {
		return policyFlags.file, nil
	}
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return "", err
	}
	return cfg.Policy.FilePath, nil
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	path, err := catalogPath(cmd)
	if err != nil {
		return err
	}
	_, _, report, err := loadCatalog(path)
	if err != nil {
		return cli.NewCommandError("policy validate", err)
	}
	if err := cli.NewFormatter(cli.FormatText).FormatTo(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if len(report.Problems) > 0 {
		return &cli.ExitError{Code: 1, Reason: fmt.Sprintf("%d problems", len(report.Problems))}
	}
	return nil
}

func runPolicyImport(cmd *cobra.Command, args []string) error {
	path, err := catalogPath(cmd)
	if err != nil {
		return err
	}
	cat, entries, report, err := loadCatalog(path)
	if err != nil {
		return cli.NewCommandError("policy import", err)
	}
	if len(report.Problems) > 0 {
		_ = cli.NewFormatter(cli.FormatText).FormatTo(cmd.ErrOrStderr(), report)
		return cli.NewCommandError("policy import", fmt.Errorf("catalog has %d problems", len(report.Problems)))
	}

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	c, err := catalog.Open(catalog.Config{Path: cfg.Catalog.Path, BusyTimeout: cfg.Catalog.BusyTimeout}, nil)
	if err != nil {
		return cli.NewCommandError("policy import", err)
	}
	defer c.Close()

	if err := c.Import(cmd.Context(), cat, entries); err != nil {
		return cli.NewCommandError("policy import", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported into %s\n", cfg.Catalog.Path)
	return cli.NewFormatter(cli.FormatText).FormatTo(cmd.OutOrStdout(), report)
}

func runPolicyGray(cmd *cobra.Command, args []string) error {
	if policyFlags.ratio < 0 || policyFlags.ratio > 1 {
		return cli.NewConfigError("ratio", "must be within [0,1]")
	}
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	c, err := catalog.Open(catalog.Config{Path: cfg.Catalog.Path, BusyTimeout: cfg.Catalog.BusyTimeout}, nil)
	if err != nil {
		return cli.NewCommandError("policy gray", err)
	}
	defer c.Close()

	if err := c.AddGrayTicket(cmd.Context(), policyFlags.policyID, policyFlags.versionID, policyFlags.ratio); err != nil {
		return cli.NewCommandError("policy gray", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "policy %d version %d gray ratio set to %.4f\n",
		policyFlags.policyID, policyFlags.versionID, policyFlags.ratio)
	return nil
}
