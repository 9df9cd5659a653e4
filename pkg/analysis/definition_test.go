package analysis

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanmc/scanmc/pkg/param"
	"github.com/scanmc/scanmc/pkg/prior"
)

const testDefinition = `
parameters:
  - name: mass
    min: 0.0
    max: 10.0
    prior: gaussian
    lower: 4.0
    central: 5.0
    upper: 6.0
  - name: coupling
    min: -1.0
    max: 1.0
    prior: flat
    nuisance: true
  - name: winding
    prior: discrete
    values: [0, 1, 2]
  - name: scale
    prior: flat
    min: 0.0
    max: 100.0
    fix: 50.0
constraints:
  - parameter: mass
    lower: 4.5
    central: 5.0
    upper: 5.5
  - parameter: scale
    lower: 49.0
    central: 50.0
    upper: 51.0
partitions:
  - [{name: coupling, min: -1.0, max: 0.0}]
  - [{name: coupling, min: 0.0, max: 1.0}]
`

func writeDefinition(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "analysis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadDefinition_Build(t *testing.T) {
	t.Parallel()

	def, err := LoadDefinition(writeDefinition(t, testDefinition))
	require.NoError(t, err)

	a, partitions, err := def.Build()
	require.NoError(t, err)

	// The fixed parameter is excluded from the free vector.
	assert.Equal(t, []string{"mass", "coupling", "winding"}, a.Names())
	assert.Len(t, partitions, 2)

	assert.True(t, a.Descriptions()[1].Nuisance)
	assert.True(t, a.Descriptions()[2].Discrete)

	// The mass constraint pulls the posterior toward 5.
	post := a.Posterior()
	at5 := post.Evaluate(param.Vector{5, 0, 1})
	at6 := post.Evaluate(param.Vector{6, 0, 1})
	assert.Greater(t, at5, at6)

	// Off-support discrete values are excluded outright.
	assert.True(t, math.IsInf(post.Evaluate(param.Vector{5, 0, 0.5}), -1))
}

func TestLoadDefinition_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadDefinition(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDefinition_BuildErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		def  Definition
		want error
	}{
		{
			name: "no free parameters",
			def: Definition{Parameters: []ParameterDef{
				{Name: "x", Prior: "flat", Fix: ptr(1.0)},
			}},
			want: ErrNoParameters,
		},
		{
			name: "no constraints",
			def: Definition{Parameters: []ParameterDef{
				{Name: "x", Prior: "flat", Min: ptr(0.0), Max: ptr(1.0)},
			}},
			want: ErrNothingToConstrain,
		},
		{
			name: "unknown prior type",
			def: Definition{
				Parameters: []ParameterDef{
					{Name: "x", Prior: "cauchy", Min: ptr(0.0), Max: ptr(1.0)},
				},
				Constraints: []ConstraintDef{
					{Parameter: "x", Lower: 0.25, Central: 0.5, Upper: 0.75},
				},
			},
			want: ErrUnknownPriorType,
		},
		{
			name: "sigmas with flat prior",
			def: Definition{
				Parameters: []ParameterDef{
					{Name: "x", Prior: "flat", Min: ptr(0.0), Max: ptr(1.0), Sigmas: 2},
				},
				Constraints: []ConstraintDef{
					{Parameter: "x", Lower: 0.25, Central: 0.5, Upper: 0.75},
				},
			},
			want: ErrSigmasWithFlat,
		},
		{
			name: "sigmas out of bounds",
			def: Definition{
				Parameters: []ParameterDef{
					{Name: "x", Prior: "gaussian", Lower: -1, Central: 0, Upper: 1, Sigmas: 11},
				},
				Constraints: []ConstraintDef{
					{Parameter: "x", Lower: -1, Central: 0, Upper: 1},
				},
			},
			want: ErrInvalidSigmas,
		},
		{
			name: "constraint on undeclared parameter",
			def: Definition{
				Parameters: []ParameterDef{
					{Name: "x", Prior: "flat", Min: ptr(0.0), Max: ptr(1.0)},
				},
				Constraints: []ConstraintDef{
					{Parameter: "ghost", Lower: -1, Central: 0, Upper: 1},
				},
			},
			want: ErrConstraintTarget,
		},
		{
			name: "degenerate constraint quantiles",
			def: Definition{
				Parameters: []ParameterDef{
					{Name: "x", Prior: "flat", Min: ptr(0.0), Max: ptr(1.0)},
				},
				Constraints: []ConstraintDef{
					{Parameter: "x", Lower: 0.5, Central: 0.5, Upper: 0.5},
				},
			},
			want: prior.ErrInvalidQuantiles,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := tt.def.Build()
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDefinition_SigmasTightensRange(t *testing.T) {
	t.Parallel()

	def := Definition{
		Parameters: []ParameterDef{
			{Name: "x", Prior: "gaussian", Min: ptr(-100.0), Max: ptr(100.0), Lower: -1, Central: 0, Upper: 1, Sigmas: 3},
		},
		Constraints: []ConstraintDef{
			{Parameter: "x", Lower: -1, Central: 0, Upper: 1},
		},
	}

	a, _, err := def.Build()
	require.NoError(t, err)

	assert.Equal(t, param.Range{Min: -3, Max: 3}, a.Range(0))
}

func ptr(x float64) *float64 { return &x }
