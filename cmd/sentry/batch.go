package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"datasentry-hq/sentry/pkg/cleaning"
	"datasentry-hq/sentry/pkg/cli"
	"datasentry-hq/sentry/pkg/pipeline"
)

var batchFlags struct {
	screenFlags
	items    string
	chunk    int
	progress bool
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Screen many texts with one LLM call per rule",
	Long: `Screen a set of items under one binding. Items are read from --items
(or standard input) as a JSON array, an object with an "items" array, or one
JSON object per line. Each item needs an "itemId" and a "text".

Items are sent in chunks of --chunk-size. Within a chunk every LLM rule is
evaluated with a single batch call.

Examples:
  sentry batch --agent support-bot --items replies.json
  sentry batch --policy 12 --items replies.jsonl --format csv --progress`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchFlags.register(batchCmd)
	batchCmd.Flags().StringVarP(&batchFlags.items, "items", "i", "", "items file (default: stdin)")
	batchCmd.Flags().IntVar(&batchFlags.chunk, "chunk-size", 50, "items per batch call")
	batchCmd.Flags().BoolVar(&batchFlags.progress, "progress", false, "show progress on stderr")
}

func runBatch(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(batchFlags.format)
	if err != nil {
		return err
	}
	if batchFlags.chunk < 1 {
		return cli.NewConfigError("chunk-size", "must be at least 1")
	}

	var data []byte
	if batchFlags.items != "" {
		data, err = os.ReadFile(batchFlags.items)
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read items: %w", err)
	}
	items, err := parseItems(data)
	if err != nil {
		return cli.NewConfigError("items", err.Error())
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

	var progress cli.ProgressReporter
	if batchFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "items")
		progress.Start(int64(len(items)))
	}

	out := &cleaning.BatchResponse{Results: make([]cleaning.BatchItemResult, 0, len(items))}
	for start := 0; start < len(items); start += batchFlags.chunk {
		end := min(start+batchFlags.chunk, len(items))
		resp, err := a.service.BatchCheck(ctx, cleaning.BatchRequest{
			TraceID:   batchFlags.traceID,
			AgentID:   batchFlags.agent,
			Scene:     batchFlags.scene,
			PolicyID:  batchFlags.policy(),
			RouteKey:  batchFlags.routeKey,
			DisableL3: batchFlags.disableL3,
			Items:     items[start:end],
		})
		if err != nil {
			if progress != nil {
				progress.Error(err)
			}
			return cli.NewCommandError("batch", err)
		}
		out.Results = append(out.Results, resp.Results...)
		if progress != nil {
			progress.Add(int64(end - start))
		}
	}
	if progress != nil {
		progress.Finish()
	}

	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), batchResult{out}); err != nil {
		return err
	}
	verdicts := make([]pipeline.Verdict, len(out.Results))
	for i, r := range out.Results {
		verdicts[i] = r.Verdict
	}
	return batchFlags.exitFor(verdicts...)
}

// parseItems accepts a JSON array, an object with an "items" array, or JSON
// lines.
func parseItems(data []byte) ([]cleaning.BatchItem, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no items")
	}

	if gjson.ValidBytes(data) {
		doc := gjson.ParseBytes(data)
		if doc.IsObject() {
			if !doc.Get("items").Exists() {
				return []cleaning.BatchItem{itemFrom(doc)}, nil
			}
			doc = doc.Get("items")
		}
		if !doc.IsArray() {
			return nil, fmt.Errorf("expected an array of items")
		}
		var items []cleaning.BatchItem
		for _, v := range doc.Array() {
			items = append(items, itemFrom(v))
		}
		return items, nil
	}

	var items []cleaning.BatchItem
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !gjson.ValidBytes(raw) {
			return nil, fmt.Errorf("line %d is not valid JSON", line)
		}
		items = append(items, itemFrom(gjson.ParseBytes(raw)))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func itemFrom(v gjson.Result) cleaning.BatchItem {
	id := v.Get("itemId")
	if !id.Exists() {
		id = v.Get("item_id")
	}
	return cleaning.BatchItem{ItemID: id.String(), Text: v.Get("text").String()}
}
