package cli

import (
	"github.com/spf13/cobra"

	"ember/emberos/ckpt"
	"ember/emberos/pmem"
	"ember/emberos/workload"
)

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <image>",
		Short: "Run journal recovery on an NVM image and print the outcome",
		Long: `Open the store on an NVM image the way a boot does: every committed
journal is replayed and every unfinished one discarded. Then print the
workload result and the last checkpoint found on the image.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd, rootOpts, args[0])
		},
	}
}

func runRecover(cmd *cobra.Command, opts *RootOptions, path string) (err error) {
	sel, err := opts.selection()
	if err != nil {
		return err
	}
	nvm, err := openImage(path)
	if err != nil {
		return err
	}
	defer func() { err = closeImage(nvm, err) }()

	store, err := pmem.Open(nvm, pmem.OpenOptions{Mode: sel.Mode, Logger: opts.logger(cmd)})
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, r := range store.Recovered() {
		if err := printf(w, "heap %-12s %-9s entries=%d seq=%d\n", r.Heap, r.Outcome, r.Entries, r.Seq); err != nil {
			return err
		}
	}

	res, err := workload.Read(store)
	if err != nil {
		return err
	}
	if err := printf(w, "workload squares=%d sent=%d received=%d payload=%d verdict=%s\n",
		res.Squares, res.Sent, res.Received, res.Payload, res.Verdict); err != nil {
		return err
	}
	snap, ok, err := ckpt.Last(store)
	if err != nil || !ok {
		return err
	}
	return printf(w, "checkpoint boots=%d count=%d ticks=%d commits=%d\n",
		snap.Boots, snap.Checkpoints, snap.Ticks, snap.Commits)
}
