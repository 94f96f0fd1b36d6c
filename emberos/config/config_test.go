package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTableBoards(t *testing.T) {
	tbl := DefaultTable()
	assert.Equal(t, []string{"apollo4", "host", "msp430fr5994"}, tbl.BoardNames())
	for _, name := range tbl.BoardNames() {
		b := tbl.Boards[name]
		require.NotNil(t, b.Defaults, name)
		assert.NoError(t, b.Defaults.Validate(), name)
	}
}

func TestResolveDefaults(t *testing.T) {
	cfg, err := Load(Selection{Board: "msp430fr5994", Mode: ModeNormal})
	require.NoError(t, err)
	assert.Equal(t, uint32(512), cfg.Budgets.JournalBytes)
	assert.Equal(t, 8, cfg.Budgets.MaxTasks)
	assert.False(t, cfg.Checkpoint.Enabled)
}

func TestResolveLongestMatchWins(t *testing.T) {
	cfg, err := Load(Selection{Board: "msp430fr5994", Mode: ModeIdempotent})
	require.NoError(t, err)
	assert.Equal(t, uint32(768), cfg.Budgets.JournalBytes)
	assert.Equal(t, 8, cfg.Budgets.MaxTasks)

	cfg, err = Load(Selection{
		Board:      "msp430fr5994",
		Mode:       ModeIdempotent,
		Checkpoint: Checkpoint{Enabled: true},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), cfg.Budgets.JournalBytes)
	assert.Equal(t, 9, cfg.Budgets.MaxTasks)
	assert.Equal(t, uint32(4608), cfg.Budgets.StackPoolBytes)
	assert.Equal(t, uint32(2048), cfg.Budgets.HeapBytes, "unset fields keep defaults")
	assert.Equal(t, uint32(defaultCheckpointPeriod), cfg.Checkpoint.PeriodTicks)
}

func TestResolveOverrideNeedsAllFeatures(t *testing.T) {
	cfg, err := Load(Selection{Board: "host", Mode: ModeNormal, Checkpoint: Checkpoint{Enabled: true, PeriodTicks: 7}})
	require.NoError(t, err)
	assert.Equal(t, uint32(6144), cfg.Budgets.HeapBytes)
	assert.Equal(t, uint32(2048), cfg.Budgets.JournalBytes)
	assert.Equal(t, uint32(7), cfg.Checkpoint.PeriodTicks)
}

func TestResolveErrors(t *testing.T) {
	_, err := Load(Selection{Board: "nope"})
	assert.ErrorContains(t, err, "not in budget table")

	tbl, err := ParseTable([]byte(`
boards:
  bare:
    description: no defaults
`))
	require.NoError(t, err)
	_, err = tbl.Resolve(Selection{Board: "bare"})
	assert.ErrorContains(t, err, "no defaults entry")

	tbl, err = ParseTable([]byte(`
boards:
  zero:
    defaults:
      nvm_bytes: 1024
`))
	require.NoError(t, err)
	_, err = tbl.Resolve(Selection{Board: "zero"})
	assert.ErrorContains(t, err, "boot heap budget is zero")

	_, err = ParseTable([]byte("boards: {}"))
	assert.Error(t, err)
}

func TestModeNames(t *testing.T) {
	for _, m := range Modes() {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("turbo")
	assert.Error(t, err)

	assert.True(t, ModeIdempotent.ResumesLoops())
	assert.False(t, ModeNormal.ResumesLoops())
	assert.False(t, ModeDurableBaseline.Journaled())
	assert.True(t, ModeSRAMBaseline.Volatile())
	assert.Equal(t, []string{"sram-baseline", "checkpoint", "fault"},
		Selection{Mode: ModeSRAMBaseline, Checkpoint: Checkpoint{Enabled: true}, FaultEvery: 10}.Features())
}
