package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"

	"github.com/scanmc/scanmc/pkg/analysis"
	"github.com/scanmc/scanmc/pkg/optimizer"
)

// errPointRequired is returned when gof is invoked without a point.
var errPointRequired = errors.New("goodness-of-fit needs an explicit --point")

// GoodnessOfFitOptions holds the gof command flags.
type GoodnessOfFitOptions struct {
	AnalysisFile string
	Point        string
	Samples      int
	Seed         uint64
}

// NewGoodnessOfFitCommand creates the gof command: a p-value estimate
// for a user-specified best-fit point.
func NewGoodnessOfFitCommand() *cobra.Command {
	opts := &GoodnessOfFitOptions{}

	cmd := &cobra.Command{
		Use:   "gof",
		Short: "Goodness-of-fit p-value for a parameter point",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runGoodnessOfFit(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.AnalysisFile, "analysis", "a", "", "analysis definition file (required)")
	flags.StringVar(&opts.Point, "point", "", "comma-separated best-fit point (required)")
	flags.IntVar(&opts.Samples, "samples", 100000, "prior draws for the p-value estimate")
	flags.Uint64Var(&opts.Seed, "seed", 0, "RNG seed")

	cmd.MarkFlagRequired("analysis")
	cmd.MarkFlagRequired("point")

	return cmd
}

func runGoodnessOfFit(opts *GoodnessOfFitOptions) error {
	def, err := analysis.LoadDefinition(opts.AnalysisFile)
	if err != nil {
		return err
	}

	ana, _, err := def.Build()
	if err != nil {
		return err
	}

	point, err := parsePoint(opts.Point)
	if err != nil {
		return err
	}

	if point == nil {
		return errPointRequired
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	p, err := optimizer.GoodnessOfFit(ana, point, opts.Samples, rng)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "# log(posterior) at %v = %g\n", point, ana.Posterior().Evaluate(point))
	fmt.Fprintf(os.Stdout, "# p-value = %g (%d prior draws)\n", p, opts.Samples)

	return nil
}
