package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ember/emberos/config"
)

// NewBoardsCommand creates the boards command.
func NewBoardsCommand(rootOpts *RootOptions) *cobra.Command {
	var checkpoint bool
	cmd := &cobra.Command{
		Use:   "boards",
		Short: "List boards and their resolved budgets",
		Long: `List every board in the built-in budget table with the budgets that
apply for the selected mode and features.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := rootOpts.selection()
			if err != nil {
				return err
			}
			sel.Checkpoint.Enabled = checkpoint
			return runBoards(cmd, config.DefaultTable(), sel)
		},
	}
	cmd.Flags().BoolVar(&checkpoint, "checkpoint", false, "resolve with the checkpoint daemon enabled")
	return cmd
}

func runBoards(cmd *cobra.Command, table *config.Table, sel config.Selection) error {
	w := cmd.OutOrStdout()
	if err := printf(w, "%-14s %8s %11s %11s %5s %10s  %s\n",
		"BOARD", "NVM", "BOOT", "HEAP", "TASKS", "STACK", "DESCRIPTION"); err != nil {
		return err
	}
	for _, name := range table.BoardNames() {
		sel.Board = name
		cfg, err := table.Resolve(sel)
		if err != nil {
			return err
		}
		b := cfg.Budgets
		err = printf(w, "%-14s %8d %11s %11s %5d %10s  %s\n",
			name,
			b.NVMBytes,
			fmt.Sprintf("%d+%d", b.BootHeapBytes, b.BootJournalBytes),
			fmt.Sprintf("%d+%d", b.HeapBytes, b.JournalBytes),
			b.MaxTasks,
			fmt.Sprintf("%d/%d", b.StackBytes, b.StackPoolBytes),
			table.Boards[name].Description)
		if err != nil {
			return err
		}
	}
	return nil
}
