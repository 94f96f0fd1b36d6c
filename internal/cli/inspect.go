package cli

import (
	"github.com/spf13/cobra"

	"ember/emberos/pmem"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <image>",
		Short: "Print the layout of an NVM image without changing it",
		Long: `Print the superblock, heaps, journal states and objects of an NVM image.
Recovery is not run, so a committed but unapplied transaction is shown as such.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0])
		},
	}
}

func runInspect(cmd *cobra.Command, path string) (err error) {
	nvm, err := openImage(path)
	if err != nil {
		return err
	}
	defer func() { err = closeImage(nvm, err) }()

	rep, err := pmem.Inspect(nvm)
	if err != nil {
		return err
	}
	return rep.WriteText(cmd.OutOrStdout())
}
