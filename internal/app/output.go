package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/execution"
	"github.com/felixgeelhaar/provision/internal/domain/render"
	"github.com/felixgeelhaar/provision/internal/ports"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"}
	colorError   = lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#6c7086"}
	colorPrimary = lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"}

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)

	titleCaser = cases.Title(language.English)
)

// label turns "rolled_back" or "needs-apply" into "Rolled Back" or "Needs Apply".
func label(s string) string {
	return titleCaser.String(strings.NewReplacer("_", " ", "-", " ").Replace(s))
}

func (p *Provision) title(s string) {
	p.printf("\n%s\n\n", titleStyle.Render(s))
}

// PrintPlan outputs the resolved step order. Checked plans also show each
// step's live status and planned change.
func (p *Provision) PrintPlan(plan *execution.Plan) {
	p.title("Provisioning Plan")

	summary := plan.Summary()
	if summary.Total == 0 {
		p.printf("No steps declared.\n")
		return
	}

	for i, entry := range plan.Entries() {
		id := entry.Step().ID().String()
		switch entry.Status() {
		case compiler.StatusSatisfied:
			p.printf("  %2d. %s %s\n", i+1, successStyle.Render("✓"), id)
		case compiler.StatusNeedsApply:
			p.printf("  %2d. %s %s\n", i+1, warningStyle.Render("+"), id)
			if diff := entry.Diff(); !diff.IsEmpty() {
				p.printf("        %s\n", mutedStyle.Render(diff.Summary()))
			}
		default:
			p.printf("  %2d. %s %s\n", i+1, mutedStyle.Render("·"), id)
			if err := entry.Err(); err != nil {
				p.printf("        %s\n", errorStyle.Render(err.Error()))
			}
		}
		if deps := entry.Step().DependsOn(); len(deps) > 0 {
			names := make([]string, len(deps))
			for j, d := range deps {
				names[j] = d.String()
			}
			p.printf("        %s\n", mutedStyle.Render("after "+strings.Join(names, ", ")))
		}
	}

	if summary.Satisfied+summary.NeedsApply > 0 {
		p.printf("\n%d steps: %d to apply, %d satisfied, %d unknown\n",
			summary.Total, summary.NeedsApply, summary.Satisfied, summary.Unknown)
	} else {
		p.printf("\n%d steps\n", summary.Total)
	}
}

// PrintExplanations outputs what every planned step is for.
func (p *Provision) PrintExplanations(plan *execution.Plan, verbose bool) {
	p.title("Step Details")

	ectx := compiler.NewExplainContext().WithVerbose(verbose)
	for _, entry := range plan.Entries() {
		exp := entry.Step().Explain(ectx)
		p.printf("  %s: %s\n", entry.Step().ID().String(), exp.Summary())
		if exp.Detail() != "" {
			p.printf("      %s\n", exp.Detail())
		}
		for _, link := range exp.DocLinks() {
			p.printf("      %s\n", mutedStyle.Render(link))
		}
	}
}

// PrintStatus outputs the live status of every step.
func (p *Provision) PrintStatus(plan *execution.Plan) {
	p.title("Host Status")

	for _, entry := range plan.Entries() {
		status := label(entry.Status().String())
		switch entry.Status() {
		case compiler.StatusSatisfied:
			status = successStyle.Render(status)
		case compiler.StatusNeedsApply:
			status = warningStyle.Render(status)
		default:
			status = errorStyle.Render(status)
		}
		p.printf("  %-40s %s\n", entry.Step().ID().String(), status)
		if err := entry.Err(); err != nil {
			p.printf("  %s\n", mutedStyle.Render(err.Error()))
		}
	}

	summary := plan.Summary()
	p.printf("\n%d satisfied, %d need apply, %d unknown\n", summary.Satisfied, summary.NeedsApply, summary.Unknown)
}

// PrintResult outputs the outcome of an apply run.
func (p *Provision) PrintResult(result *execution.PlanResult) {
	p.title("Execution Results")

	for _, res := range result.Results() {
		id := res.StepID().String()
		switch res.Status() {
		case execution.StatusApplied:
			p.printf("  %s %s\n", successStyle.Render("✓"), id)
		case execution.StatusSkipped:
			p.printf("  %s %s %s\n", mutedStyle.Render("-"), id, mutedStyle.Render("(satisfied)"))
		case execution.StatusFailed:
			p.printf("  %s %s: %v\n", errorStyle.Render("✗"), id, res.Error())
			if hint := res.Hint(); hint != "" {
				p.printf("      %s\n", mutedStyle.Render("hint: "+hint))
			}
		case execution.StatusRolledBack:
			p.printf("  %s %s %s\n", warningStyle.Render("↺"), id, mutedStyle.Render("(rolled back)"))
		case execution.StatusNotRun:
			p.printf("  %s %s %s\n", mutedStyle.Render("·"), id, mutedStyle.Render("(not run)"))
		}
		if err := res.RollbackError(); err != nil {
			p.printf("      %s\n", warningStyle.Render("rollback: "+err.Error()))
		}
	}

	for _, w := range result.Warnings() {
		var stepErr *compiler.StepError
		if errors.As(w, &stepErr) {
			continue // already shown next to its step
		}
		p.printf("  %s\n", warningStyle.Render("warning: "+w.Error()))
	}

	if result.Aborted() && result.AbortError() != nil {
		p.printf("\n%s\n", errorStyle.Render("Aborted: "+result.AbortError().Error()))
	}

	sum := result.Summary()
	p.printf("\nSummary: %d applied, %d satisfied, %d failed, %d rolled back, %d not run (%s)\n",
		sum.Applied, sum.Skipped, sum.Failed, sum.RolledBack, sum.NotRun,
		result.FinishedAt().Sub(result.StartedAt()).Round(time.Millisecond))
}

// PrintHistory outputs recorded runs, newest first.
func (p *Provision) PrintHistory(runs []ports.RunRecord) {
	p.title("Run History")

	if len(runs) == 0 {
		p.printf("No runs recorded.\n")
		return
	}
	for _, run := range runs {
		outcome := successStyle.Render("ok")
		switch {
		case run.Aborted:
			outcome = errorStyle.Render("aborted")
		case run.ExitCode != 0:
			outcome = errorStyle.Render("failed")
		}
		p.printf("  %s  %s  %-8s %-20s %s\n",
			mutedStyle.Render(run.StartedAt.Local().Format("2006-01-02 15:04:05")),
			run.ID, run.Command, run.Host, outcome)
	}
}

// PrintRun outputs one recorded run with its steps.
func (p *Provision) PrintRun(run ports.RunRecord) {
	p.title("Run " + run.ID)

	p.printf("  host:     %s\n", run.Host)
	p.printf("  command:  %s\n", run.Command)
	p.printf("  started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	p.printf("  duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	p.printf("  exit:     %d\n\n", run.ExitCode)

	for _, step := range run.Steps {
		p.printf("  %-40s %s\n", step.StepID, label(step.Status))
		if step.Error != "" {
			p.printf("    %s\n", errorStyle.Render(step.Error))
		}
	}
	for _, w := range run.Warnings {
		p.printf("  %s\n", warningStyle.Render("warning: "+w))
	}
}

// PrintArtifact outputs the rendered artifact exactly as it would be written.
func (p *Provision) PrintArtifact(art render.Artifact) {
	p.printf("%s", art.Text())
}

// printf writes to the output writer, ignoring errors.
func (p *Provision) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}
