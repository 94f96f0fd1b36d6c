package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ember/emberos/config"
	"ember/emberos/pmem"
	"ember/hal"
)

// NewFormatCommand creates the format command.
func NewFormatCommand(rootOpts *RootOptions) *cobra.Command {
	var deployment string
	cmd := &cobra.Command{
		Use:   "format <image>",
		Short: "Write an empty store to an NVM image",
		Long: `Format an NVM image file with an empty store sized for the selected
board. A missing file is created at the board's NVM size; an existing file
keeps its size. Everything on the image is lost.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormat(cmd, rootOpts, args[0], deployment)
		},
	}
	cmd.Flags().StringVar(&deployment, "deployment", "", "deployment id (random when empty)")
	return cmd
}

func runFormat(cmd *cobra.Command, opts *RootOptions, path, deployment string) (err error) {
	sel, err := opts.selection()
	if err != nil {
		return err
	}
	cfg, err := config.Load(sel)
	if err != nil {
		return err
	}
	dep := uuid.Nil
	if deployment != "" {
		if dep, err = uuid.Parse(deployment); err != nil {
			return fmt.Errorf("deployment: %w", err)
		}
	}

	nvm, err := hal.OpenFileNVM(path, cfg.Budgets.NVMBytes)
	if err != nil {
		return err
	}
	defer func() { err = closeImage(nvm, err) }()

	err = pmem.Format(nvm, pmem.FormatOptions{
		Deployment:       dep,
		BootHeapBytes:    cfg.Budgets.BootHeapBytes,
		BootJournalBytes: cfg.Budgets.BootJournalBytes,
	})
	if err != nil {
		return fmt.Errorf("format %s: %w", path, err)
	}
	rep, err := pmem.Inspect(nvm)
	if err != nil {
		return err
	}
	return printf(cmd.OutOrStdout(), "formatted %s: %d bytes, board %s, deployment %s\n",
		path, rep.SizeBytes, cfg.Board, rep.Deployment)
}
