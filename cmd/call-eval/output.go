package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/stellarlinkco/call-eval/internal/store"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return formatTable, nil
	case "json", "jsonl":
		return formatJSON, nil
	default:
		return "", fmt.Errorf("invalid output format %q (expected table|json)", s)
	}
}

func coloredCaseStatus(status store.CaseStatus) string {
	switch status {
	case store.CasePassed:
		return colorGreen + "PASS " + colorReset
	case store.CaseFailed:
		return colorRed + "FAIL " + colorReset
	case store.CaseErrored:
		return colorYellow + "ERROR" + colorReset
	default:
		return string(status)
	}
}

func formatRunSummary(run *store.RunRecord) string {
	if run == nil {
		return ""
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\nRun %s (%s)\n", run.ID, run.SuiteName)

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  cases\t%d passed, %d failed, %d errored (of %d)\n",
		run.PassedCases, run.FailedCases, run.ErroredCases, run.TotalCases)
	if run.AvgScore != nil {
		fmt.Fprintf(tw, "  avg score\t%.2f\n", *run.AvgScore)
	} else {
		fmt.Fprintf(tw, "  avg score\t-\n")
	}
	fmt.Fprintf(tw, "  duration\t%dms\n", run.DurationMs)
	fmt.Fprintf(tw, "  tokens\t%d in / %d out\n", run.InputTokens, run.OutputTokens)
	fmt.Fprintf(tw, "  est. cost\t%s\n", formatCents(run.EstimatedCostCents))
	_ = tw.Flush()
	return buf.String()
}

func formatResultsTable(results []*store.ResultRecord) string {
	if len(results) == 0 {
		return ""
	}

	var buf bytes.Buffer
	buf.WriteString("\n")
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tSTATUS\tSCORE\tTURNS\tEND\tDETAIL")
	for _, res := range results {
		if res == nil {
			continue
		}
		score := "-"
		if res.OverallScore != nil {
			score = fmt.Sprintf("%d", *res.OverallScore)
		}
		detail := res.Summary
		if res.Status == store.CaseErrored {
			detail = res.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			res.CaseID, coloredCaseStatus(res.Status), score, res.TurnCount, res.EndReason, truncate(detail, 60))
	}
	_ = tw.Flush()
	return buf.String()
}

func writeRunJSON(w io.Writer, run *store.RunRecord, results []*store.ResultRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"run":     run,
		"results": results,
	})
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 3 || len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
