// Package report writes summaries of automerge runs.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/simplesurance/justmerge/internal/automerge"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Write writes a summary of result in the given format to w.
func Write(w io.Writer, format string, result *automerge.RunResult) error {
	switch format {
	case FormatText:
		return WriteText(w, result)
	case FormatJSON:
		return WriteJSON(w, result)
	default:
		return fmt.Errorf("unsupported summary format: %q", format)
	}
}

// state returns the outcome of the merge operation, if it was attempted,
// otherwise the verdict.
func state(d *automerge.Disposition) string {
	if d.Outcome != nil {
		return d.Outcome.String()
	}

	if d.NotAttempted() {
		return "not-attempted"
	}

	return d.Verdict.Decision.String()
}

func reason(d *automerge.Disposition) string {
	if d.Outcome != nil && d.Outcome.Err != nil {
		return d.Outcome.Err.Error()
	}

	return d.Verdict.Reason
}

type textStyles struct {
	repository lipgloss.Style
	merged     lipgloss.Style
	skipped    lipgloss.Style
	deferred   lipgloss.Style
	failed     lipgloss.Style
	dim        lipgloss.Style
}

func newTextStyles(r *lipgloss.Renderer) *textStyles {
	return &textStyles{
		repository: r.NewStyle().Bold(true),
		merged:     r.NewStyle().Foreground(lipgloss.Color("2")),
		skipped:    r.NewStyle().Foreground(lipgloss.Color("8")),
		deferred:   r.NewStyle().Foreground(lipgloss.Color("3")),
		failed:     r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dim:        r.NewStyle().Faint(true),
	}
}

func (s *textStyles) forDisposition(d *automerge.Disposition) lipgloss.Style {
	if d.Outcome != nil {
		switch {
		case d.Outcome.Kind == automerge.OutcomeMerged:
			return s.merged
		case d.Outcome.Failed(), d.Outcome.Kind == automerge.OutcomeRateLimited:
			return s.failed
		default:
			return s.deferred
		}
	}

	switch d.Verdict.Decision {
	case automerge.DecisionSkip:
		return s.skipped
	case automerge.DecisionDefer:
		return s.deferred
	default:
		return s.failed
	}
}

type columnWidths struct {
	number, author, state, reason int
}

func computeColumnWidths(dispositions []*automerge.Disposition) *columnWidths {
	var result columnWidths

	for _, d := range dispositions {
		result.number = max(result.number, len(fmt.Sprintf("#%d", d.Number)))
		result.author = max(result.author, lipgloss.Width(d.Author))
		result.state = max(result.state, lipgloss.Width(state(d)))
		result.reason = max(result.reason, lipgloss.Width(reason(d)))
	}

	return &result
}

// WriteText writes a human readable summary to w.
// Colors are only used when w is a terminal that supports them.
func WriteText(w io.Writer, result *automerge.RunResult) error {
	renderer := lipgloss.NewRenderer(w)
	styles := newTextStyles(renderer)
	widths := computeColumnWidths(result.Dispositions)

	var sb strings.Builder

	var lastRepo automerge.Repository
	for _, d := range result.Dispositions {
		if d.Repository != lastRepo {
			if lastRepo != (automerge.Repository{}) {
				sb.WriteString("\n")
			}
			sb.WriteString(styles.repository.Render(d.Repository.String()))
			sb.WriteString("\n")
			lastRepo = d.Repository
		}

		cols := []string{
			renderer.NewStyle().Width(widths.number).Render(fmt.Sprintf("#%d", d.Number)),
			renderer.NewStyle().Width(widths.author).Render(d.Author),
			styles.forDisposition(d).Width(widths.state).Render(state(d)),
		}

		if widths.reason > 0 {
			cols = append(cols, renderer.NewStyle().Width(widths.reason).Render(reason(d)))
		}

		cols = append(cols, styles.dim.Render(d.URL))

		sb.WriteString("  ")
		sb.WriteString(strings.TrimRight(strings.Join(cols, "  "), " "))
		sb.WriteString("\n")
	}

	if len(result.RepositoryErrors) > 0 {
		sb.WriteString("\n")
		for _, e := range result.RepositoryErrors {
			sb.WriteString(styles.failed.Render("error:"))
			fmt.Fprintf(&sb, " %s: %s\n", e.Repository, e.Err)
		}
	}

	if result.Halted() {
		sb.WriteString("\n")
		sb.WriteString(styles.failed.Render("halted:"))
		fmt.Fprintf(&sb, " %s", result.HaltReason)
		if result.HaltErr != nil {
			fmt.Fprintf(&sb, ": %s", result.HaltErr)
		}
		sb.WriteString("\n")

		for _, repo := range result.NotProcessed {
			fmt.Fprintf(&sb, "not processed: %s\n", repo)
		}
	}

	stats := result.Stats()
	sb.WriteString("\n")
	fmt.Fprintf(
		&sb,
		"seen: %d, merged: %d, skipped: %d, deferred: %d, conflicts: %d, failed: %d, not attempted: %d, repository errors: %d\n",
		stats.Seen, stats.Merged, stats.Skipped, stats.Deferred,
		stats.Conflicts, stats.Failed, stats.NotAttempted, stats.RepositoryErrors,
	)

	_, err := io.WriteString(w, sb.String())
	return err
}
