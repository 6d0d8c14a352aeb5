package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"datasentry-hq/sentry/pkg/cleaning"
)

// checkResult renders one CheckResponse.
type checkResult struct {
	*cleaning.CheckResponse
}

func (r checkResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.CheckResponse)
}

func (r checkResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verdict:    %s\n", r.Verdict)
	fmt.Fprintf(&b, "Categories: %s\n", joinOrDash(r.Categories))
	fmt.Fprintf(&b, "Policy:     %d%s\n", r.PolicyID, versionSuffix(r.VersionNo))
	fmt.Fprintf(&b, "Request:    %s\n", r.RequestID)
	if r.SanitizedText != "" {
		fmt.Fprintf(&b, "Sanitized:  %s\n", r.SanitizedText)
	}
	return b.String()
}

func (r checkResult) Header() []string { return resultHeader }

func (r checkResult) Rows() [][]string {
	return [][]string{resultRow(r.CheckResponse)}
}

// batchResult renders a BatchResponse.
type batchResult struct {
	*cleaning.BatchResponse
}

func (r batchResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.BatchResponse)
}

func (r batchResult) Text() string {
	var b strings.Builder
	counts := make(map[string]int)
	for _, res := range r.Results {
		counts[string(res.Verdict)]++
		fmt.Fprintf(&b, "%-24s %-9s %s\n", res.ItemID, res.Verdict, joinOrDash(res.Categories))
	}
	fmt.Fprintf(&b, "\n%d items: %d allow, %d review, %d block\n",
		len(r.Results), counts["ALLOW"], counts["REVIEW"], counts["BLOCK"])
	return b.String()
}

func (r batchResult) Header() []string { return append([]string{"item_id"}, resultHeader...) }

func (r batchResult) Rows() [][]string {
	rows := make([][]string, len(r.Results))
	for i := range r.Results {
		rows[i] = append([]string{r.Results[i].ItemID}, resultRow(&r.Results[i].CheckResponse)...)
	}
	return rows
}

var resultHeader = []string{"request_id", "verdict", "categories", "policy_id", "version_no", "sanitized_text"}

func resultRow(r *cleaning.CheckResponse) []string {
	version := ""
	if r.VersionNo != nil {
		version = strconv.Itoa(*r.VersionNo)
	}
	return []string{
		r.RequestID,
		string(r.Verdict),
		strings.Join(r.Categories, ";"),
		strconv.FormatInt(r.PolicyID, 10),
		version,
		r.SanitizedText,
	}
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ", ")
}

func versionSuffix(v *int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf(" (version %d)", *v)
}
