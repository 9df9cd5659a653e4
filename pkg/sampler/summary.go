package sampler

import (
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Summary reports per-parameter posterior statistics accumulated over
// the main run.
type Summary struct {
	Parameters []ParameterSummary
	Chains     []ChainSummary
}

// ParameterSummary is one parameter's marginal description.
type ParameterSummary struct {
	Name           string
	Mean           float64
	StdDev         float64
	ScaleReduction float64
}

// ChainSummary is one chain's bookkeeping.
type ChainSummary struct {
	ID             int
	Steps          uint64
	AcceptanceRate float64
}

// Summary collects the statistics of the run so far.
func (s *Sampler) Summary() Summary {
	names := s.analysis.Names()

	out := Summary{
		Parameters: make([]ParameterSummary, len(names)),
		Chains:     make([]ChainSummary, len(s.chains)),
	}

	for i, name := range names {
		ps := ParameterSummary{
			Name:   name,
			Mean:   s.moments[i].Mean(),
			StdDev: math.Sqrt(s.moments[i].Variance()),
		}

		if i < len(s.finalR) {
			ps.ScaleReduction = s.finalR[i]
		}

		out.Parameters[i] = ps
	}

	for i, c := range s.chains {
		out.Chains[i] = ChainSummary{
			ID:             c.ID(),
			Steps:          c.Stats().Total(),
			AcceptanceRate: c.Stats().AcceptanceRate(),
		}
	}

	return out
}

// WriteSummary renders the run summary as a table.
func (s *Sampler) WriteSummary(w io.Writer) {
	summary := s.Summary()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Parameter", "Mean", "Std Dev", "R-hat"})

	for _, p := range summary.Parameters {
		t.AppendRow(table.Row{p.Name, p.Mean, p.StdDev, p.ScaleReduction})
	}

	t.Render()

	ct := table.NewWriter()
	ct.SetOutputMirror(w)
	ct.AppendHeader(table.Row{"Chain", "Steps", "Acceptance"})

	for _, c := range summary.Chains {
		ct.AppendRow(table.Row{c.ID, humanize.Comma(int64(c.Steps)), c.AcceptanceRate})
	}

	ct.Render()
}

func (s *Sampler) logSummary() {
	if s.summaryW == nil || s.completedChunks == 0 {
		return
	}

	s.WriteSummary(s.summaryW)
}
