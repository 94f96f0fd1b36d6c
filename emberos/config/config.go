// Package config assembles the one configuration structure the system is
// built with: board, execution mode, optional daemons and memory budgets.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed boards.yaml
var defaultTable []byte

// Feature names matched against budget overrides, besides the mode names.
const (
	FeatureCheckpoint = "checkpoint"
	FeatureFault      = "fault"
)

// Budgets are the static memory and task limits of a board.
type Budgets struct {
	NVMBytes         uint32 `yaml:"nvm_bytes"`
	BootHeapBytes    uint32 `yaml:"boot_heap_bytes"`
	BootJournalBytes uint32 `yaml:"boot_journal_bytes"`
	HeapBytes        uint32 `yaml:"heap_bytes"`
	JournalBytes     uint32 `yaml:"journal_bytes"`
	MaxTasks         int    `yaml:"max_tasks"`
	StackBytes       uint32 `yaml:"stack_bytes"`
	StackPoolBytes   uint32 `yaml:"stack_pool_bytes"`
}

// Validate reports the first missing or inconsistent budget.
func (b Budgets) Validate() error {
	switch {
	case b.NVMBytes == 0:
		return errors.New("nvm_bytes is zero")
	case b.BootHeapBytes == 0 || b.BootJournalBytes == 0:
		return errors.New("boot heap budget is zero")
	case b.HeapBytes == 0 || b.JournalBytes == 0:
		return errors.New("task heap budget is zero")
	case b.MaxTasks <= 0:
		return errors.New("max_tasks must be positive")
	case b.StackBytes == 0:
		return errors.New("stack_bytes is zero")
	case b.StackPoolBytes < b.StackBytes:
		return fmt.Errorf("stack_pool_bytes %d below one stack of %d", b.StackPoolBytes, b.StackBytes)
	}
	return nil
}

// budgetsPatch holds the fields an override sets.
type budgetsPatch struct {
	NVMBytes         *uint32 `yaml:"nvm_bytes"`
	BootHeapBytes    *uint32 `yaml:"boot_heap_bytes"`
	BootJournalBytes *uint32 `yaml:"boot_journal_bytes"`
	HeapBytes        *uint32 `yaml:"heap_bytes"`
	JournalBytes     *uint32 `yaml:"journal_bytes"`
	MaxTasks         *int    `yaml:"max_tasks"`
	StackBytes       *uint32 `yaml:"stack_bytes"`
	StackPoolBytes   *uint32 `yaml:"stack_pool_bytes"`
}

func (p budgetsPatch) apply(b Budgets) Budgets {
	set := func(dst *uint32, v *uint32) {
		if v != nil {
			*dst = *v
		}
	}
	set(&b.NVMBytes, p.NVMBytes)
	set(&b.BootHeapBytes, p.BootHeapBytes)
	set(&b.BootJournalBytes, p.BootJournalBytes)
	set(&b.HeapBytes, p.HeapBytes)
	set(&b.JournalBytes, p.JournalBytes)
	set(&b.StackBytes, p.StackBytes)
	set(&b.StackPoolBytes, p.StackPoolBytes)
	if p.MaxTasks != nil {
		b.MaxTasks = *p.MaxTasks
	}
	return b
}

// Override replaces some budgets when all of Features are enabled.
type Override struct {
	Features []string     `yaml:"features"`
	Patch    budgetsPatch `yaml:",inline"`
}

// Board is one entry of the budget table.
type Board struct {
	Description string     `yaml:"description"`
	Defaults    *Budgets   `yaml:"defaults"`
	Overrides   []Override `yaml:"overrides"`
}

// Table maps board names to budgets.
type Table struct {
	Boards map[string]Board `yaml:"boards"`
}

// ParseTable decodes a YAML budget table.
func ParseTable(b []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse budget table: %w", err)
	}
	if len(t.Boards) == 0 {
		return nil, errors.New("parse budget table: no boards")
	}
	return &t, nil
}

// DefaultTable returns the budget table built into the binary.
func DefaultTable() *Table {
	t, err := ParseTable(defaultTable)
	if err != nil {
		panic(err)
	}
	return t
}

// BoardNames returns the table's boards in lexical order.
func (t *Table) BoardNames() []string {
	names := make([]string, 0, len(t.Boards))
	for name := range t.Boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Checkpoint configures the periodic checkpoint daemon.
type Checkpoint struct {
	Enabled     bool
	PeriodTicks uint32
}

// Selection is what the builder chooses; Resolve turns it into a Config.
type Selection struct {
	Board      string
	Mode       Mode
	Checkpoint Checkpoint
	// FaultEvery injects a power loss on average every FaultEvery NVM
	// writes; zero disables injection.
	FaultEvery uint32
}

// Features returns the enabled feature names used to match overrides.
func (s Selection) Features() []string {
	f := []string{s.Mode.String()}
	if s.Checkpoint.Enabled {
		f = append(f, FeatureCheckpoint)
	}
	if s.FaultEvery > 0 {
		f = append(f, FeatureFault)
	}
	return f
}

// Config is assembled once at startup and passed down explicitly.
type Config struct {
	Board      string
	Mode       Mode
	Checkpoint Checkpoint
	FaultEvery uint32
	Budgets    Budgets
}

const defaultCheckpointPeriod = 100

// Resolve picks the board defaults and the longest matching override.
func (t *Table) Resolve(sel Selection) (Config, error) {
	board, ok := t.Boards[sel.Board]
	if !ok {
		return Config{}, fmt.Errorf("board %q: not in budget table", sel.Board)
	}
	if board.Defaults == nil {
		return Config{}, fmt.Errorf("board %q: no defaults entry", sel.Board)
	}

	enabled := make(map[string]bool)
	for _, f := range sel.Features() {
		enabled[f] = true
	}

	budgets := *board.Defaults
	best := -1
	for i, o := range board.Overrides {
		if !matches(o.Features, enabled) {
			continue
		}
		if best < 0 || len(o.Features) > len(board.Overrides[best].Features) {
			best = i
		}
	}
	if best >= 0 {
		budgets = board.Overrides[best].Patch.apply(budgets)
	}
	if err := budgets.Validate(); err != nil {
		return Config{}, fmt.Errorf("board %q: %w", sel.Board, err)
	}

	cp := sel.Checkpoint
	if cp.Enabled && cp.PeriodTicks == 0 {
		cp.PeriodTicks = defaultCheckpointPeriod
	}
	return Config{
		Board:      sel.Board,
		Mode:       sel.Mode,
		Checkpoint: cp,
		FaultEvery: sel.FaultEvery,
		Budgets:    budgets,
	}, nil
}

func matches(features []string, enabled map[string]bool) bool {
	if len(features) == 0 {
		return false
	}
	for _, f := range features {
		if !enabled[f] {
			return false
		}
	}
	return true
}

// Load resolves sel against the built-in table.
func Load(sel Selection) (Config, error) {
	return DefaultTable().Resolve(sel)
}
