package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanmc/scanmc/pkg/config"
	"github.com/scanmc/scanmc/pkg/sampler"
)

func defaultFileConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)

	return cfg
}

func TestBuildSamplerConfig_FileValuesWin(t *testing.T) {
	t.Parallel()

	cmd := NewScanCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--analysis", "a.yaml"}))

	cfg := defaultFileConfig(t)
	cfg.Sampling.Chains = 6
	cfg.Sampling.Seed = 99

	opts := &ScanOptions{PartitionIndex: -1}

	sc := buildSamplerConfig(cmd, cfg, opts)
	assert.Equal(t, 6, sc.Chains)
	assert.Equal(t, uint64(99), sc.Seed)
	assert.True(t, sc.NeedPrerun)
	assert.True(t, sc.NeedMainRun)
	require.NoError(t, sc.Validate())
}

func TestBuildSamplerConfig_FlagsOverrideFile(t *testing.T) {
	t.Parallel()

	cmd := NewScanCommand()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--analysis", "a.yaml",
		"--chains", "2",
		"--chunk-size", "250",
		"--seed", "7",
		"--proposal", "MultivariateStudentT",
		"--dof", "4",
		"--parallel=false",
	}))

	opts := &ScanOptions{
		PartitionIndex: -1,
		Chains:         2,
		ChunkSize:      250,
		Seed:           7,
		Proposal:       "MultivariateStudentT",
		StudentTDoF:    4,
		Parallel:       false,
	}

	sc := buildSamplerConfig(cmd, defaultFileConfig(t), opts)
	assert.Equal(t, 2, sc.Chains)
	assert.Equal(t, 250, sc.ChunkSize)
	assert.Equal(t, uint64(7), sc.Seed)
	assert.Equal(t, sampler.ProposalStudentT, sc.Proposal)
	assert.Equal(t, 4.0, sc.StudentTDegreesOfFreedom)
	assert.False(t, sc.Parallelize)
}

func TestBuildSamplerConfig_Modes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		opts   ScanOptions
		verify func(t *testing.T, sc sampler.Config)
	}{
		{
			name: "no prerun",
			opts: ScanOptions{PartitionIndex: -1, NoPrerun: true},
			verify: func(t *testing.T, sc sampler.Config) {
				assert.False(t, sc.NeedPrerun)
				assert.True(t, sc.NeedMainRun)
			},
		},
		{
			name: "prerun only",
			opts: ScanOptions{PartitionIndex: -1, PrerunOnly: true},
			verify: func(t *testing.T, sc sampler.Config) {
				assert.True(t, sc.NeedPrerun)
				assert.False(t, sc.NeedMainRun)
				assert.True(t, sc.StorePrerun)
			},
		},
		{
			name: "partition scan stores its prerun",
			opts: ScanOptions{PartitionIndex: 2},
			verify: func(t *testing.T, sc sampler.Config) {
				require.NotNil(t, sc.PartitionIndex)
				assert.Equal(t, 2, *sc.PartitionIndex)
				assert.False(t, sc.NeedMainRun)
				assert.True(t, sc.StorePrerun)
			},
		},
		{
			name: "resume skips the prerun",
			opts: ScanOptions{PartitionIndex: -1, Resume: "/tmp/ckpt"},
			verify: func(t *testing.T, sc sampler.Config) {
				assert.Equal(t, "/tmp/ckpt", sc.ResumeFrom)
				assert.False(t, sc.NeedPrerun)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := NewScanCommand()
			require.NoError(t, cmd.Flags().Parse([]string{"--analysis", "a.yaml"}))

			opts := tt.opts
			sc := buildSamplerConfig(cmd, defaultFileConfig(t), &opts)
			tt.verify(t, sc)
		})
	}
}

func TestParsePoint(t *testing.T) {
	t.Parallel()

	point, err := parsePoint("1.5, -2, 0.25")
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2, 0.25}, point)

	point, err = parsePoint("")
	require.NoError(t, err)
	assert.Nil(t, point)

	_, err = parsePoint("1.5,oops")
	require.Error(t, err)
}
