// Package prompt implements the action-selection and confirmation
// collaborators: an interactive terminal prompt and a scripted policy for
// unattended runs.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/planops/almsync/internal/capacity"
	"github.com/planops/almsync/internal/catalog"
	"github.com/planops/almsync/internal/plan"
)

// Interactive collects per-pair choices from a terminal. It is driven by
// one worker at a time in practice; the orchestrator serializes nothing
// here, so interactive runs should use concurrency 1 for a sane prompt
// order.
type Interactive struct {
	in      *bufio.Reader
	out     io.Writer
	catalog *catalog.Catalog
}

func NewInteractive(in io.Reader, out io.Writer, cat *catalog.Catalog) *Interactive {
	return &Interactive{in: bufio.NewReader(in), out: out, catalog: cat}
}

func (p *Interactive) SelectAction(ctx context.Context, item *plan.Item) (plan.Decision, error) {
	fmt.Fprintf(p.out, "\nPair #%d: %s (%s) -> %s (%s)\n",
		item.PairIndex+1, item.Source.ModelName, item.Source.ModelID, item.Target.ModelName, item.Target.ModelID)
	fmt.Fprintln(p.out, "Choose revision tag option:")
	fmt.Fprintln(p.out, "  1) Use latest available revision tag")
	fmt.Fprintln(p.out, "  2) Create a new revision tag now")
	fmt.Fprintln(p.out, "  3) Select an existing revision tag")
	fmt.Fprintln(p.out, "  4) Skip this pair")

	choice, err := p.readLine("Enter choice (1/2/3/4): ")
	if err != nil {
		return plan.Decision{}, err
	}
	switch choice {
	case "2":
		name, err := p.readLine("Enter name for new revision tag (empty for auto): ")
		if err != nil {
			return plan.Decision{}, err
		}
		return plan.Decision{Action: plan.ActionCreateNew, RevisionName: name}, nil
	case "3":
		return p.selectExisting(ctx, item)
	case "4":
		return plan.Decision{Action: plan.ActionSkip}, nil
	default:
		// Anything else falls back to latest, like the choice prompt says.
		return plan.Decision{Action: plan.ActionUseLatest}, nil
	}
}

func (p *Interactive) selectExisting(ctx context.Context, item *plan.Item) (plan.Decision, error) {
	revisions, err := p.catalog.List(ctx, item.Source)
	if err != nil {
		return plan.Decision{}, fmt.Errorf("list revisions: %w", err)
	}
	if len(revisions) == 0 {
		fmt.Fprintln(p.out, "No revision tags found; creating a new one instead.")
		name, err := p.readLine("Enter name for new revision tag (empty for auto): ")
		if err != nil {
			return plan.Decision{}, err
		}
		return plan.Decision{Action: plan.ActionCreateNew, RevisionName: name}, nil
	}
	fmt.Fprintln(p.out, "Available revision tags:")
	for i, r := range revisions {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, r.Name)
	}
	sel, err := p.readLine(fmt.Sprintf("Select tag [1-%d]: ", len(revisions)))
	if err != nil {
		return plan.Decision{}, err
	}
	idx, err := strconv.Atoi(sel)
	if err != nil || idx < 1 || idx > len(revisions) {
		return plan.Decision{}, fmt.Errorf("invalid selection %q", sel)
	}
	return plan.Decision{Action: plan.ActionSelectExisting, RevisionName: revisions[idx-1].Name}, nil
}

// Confirm proceeds silently when the assessment is safe and prompts
// otherwise. Elevated risk is surfaced, never auto-rejected.
func (p *Interactive) Confirm(ctx context.Context, item *plan.Item, a capacity.Assessment) (bool, error) {
	if a.AllocatedBytes > 0 {
		fmt.Fprintf(p.out, "Target usage: %s of %s, projected %.1f%% after promoting %q\n",
			formatBytes(a.UsedBytes), formatBytes(a.AllocatedBytes), a.ProjectedPct*100, item.Revision.Name)
	} else {
		fmt.Fprintln(p.out, "Target allocation unknown; capacity risk cannot be computed.")
	}
	if a.Risk == capacity.RiskSafe {
		fmt.Fprintln(p.out, "Within capacity limits; proceeding.")
		return true, nil
	}
	answer, err := p.readLine(fmt.Sprintf("Capacity risk is %s. Proceed with promotion? (y/n): ", a.Risk))
	if err != nil {
		return false, err
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"), nil
}

func (p *Interactive) readLine(promptText string) (string, error) {
	fmt.Fprint(p.out, promptText)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Policy is the scripted collaborator: it always promotes the latest
// revision and approves anything at or below its risk ceiling.
type Policy struct {
	// MaxRisk is the highest risk the policy approves. RiskSafe approves
	// only safe runs; RiskBlock approves everything.
	MaxRisk capacity.Risk
}

func (p Policy) SelectAction(ctx context.Context, item *plan.Item) (plan.Decision, error) {
	return plan.Decision{Action: plan.ActionUseLatest}, nil
}

func (p Policy) Confirm(ctx context.Context, item *plan.Item, a capacity.Assessment) (bool, error) {
	return riskRank(a.Risk) <= riskRank(p.MaxRisk), nil
}

func riskRank(r capacity.Risk) int {
	switch r {
	case capacity.RiskSafe:
		return 0
	case capacity.RiskWarn:
		return 1
	default:
		return 2
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGTPE"[exp])
}
