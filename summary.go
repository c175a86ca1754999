package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// maxSummaryLabels caps the label breakdown in the run summary
const maxSummaryLabels = 10

var (
	summaryTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#7D56F4"))

	summarySuccessStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#04B575"))

	summaryErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FF0000"))

	summaryInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#626262"))

	summaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(0, 1)
)

// RenderSummary formats the end-of-run counts for the terminal
func RenderSummary(s *RunSummary, outputPath string) string {
	var b strings.Builder

	title := "Classification complete"
	if s.Interrupted {
		title = "Classification interrupted"
	}
	b.WriteString(summaryTitleStyle.Render(title))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Records:     %d\n", s.Total)
	fmt.Fprintf(&b, "Resumed:     %d\n", s.Skipped)
	b.WriteString(summarySuccessStyle.Render(fmt.Sprintf("Classified:  %d", s.Classified)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Unknown:     %d\n", s.Unknown)
	fmt.Fprintf(&b, "Empty:       %d\n", s.Empty)
	failed := fmt.Sprintf("Errored:     %d", s.Failed)
	if s.Failed > 0 {
		failed = summaryErrorStyle.Render(failed)
	}
	b.WriteString(failed)
	b.WriteString("\n")

	if s.BucketBelow50+s.Bucket50to70+s.Bucket70to90+s.Bucket90Plus > 0 {
		fmt.Fprintf(&b, "\nConfidence:  <0.5 %d | 0.5-0.7 %d | 0.7-0.9 %d | >=0.9 %d\n",
			s.BucketBelow50, s.Bucket50to70, s.Bucket70to90, s.Bucket90Plus)
	}

	if labels := topLabels(s.Labels, maxSummaryLabels); len(labels) > 0 {
		b.WriteString("\n")
		b.WriteString(summaryTitleStyle.Render("Labels"))
		b.WriteString("\n")
		for _, l := range labels {
			fmt.Fprintf(&b, "  %-28s %d\n", l.name, l.count)
		}
	}

	if !s.Finished.IsZero() && !s.Started.IsZero() {
		b.WriteString("\n")
		b.WriteString(summaryInfoStyle.Render(fmt.Sprintf("Took %s", s.Finished.Sub(s.Started).Round(time.Second))))
	}
	if s.RunID != "" {
		b.WriteString("\n")
		b.WriteString(summaryInfoStyle.Render("Run: " + s.RunID))
	}
	if outputPath != "" {
		b.WriteString("\n")
		b.WriteString(summaryInfoStyle.Render("Output: " + outputPath))
	}

	return summaryBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

type labelCount struct {
	name  string
	count int
}

// topLabels orders labels by count, then name, keeping at most n
func topLabels(labels map[string]int, n int) []labelCount {
	out := make([]labelCount, 0, len(labels))
	for name, count := range labels {
		out = append(out, labelCount{name: name, count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
