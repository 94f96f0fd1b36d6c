package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"ember/app"
	"ember/emberos/config"
)

// SimOptions holds the flags of the sim command.
type SimOptions struct {
	Items      uint32
	FaultEvery uint32
	Seed       uint64
	MaxBoots   int
	Checkpoint bool
	Period     uint32
	Strict     bool
}

var errNotVerified = errors.New("sim: result not verified")

// NewSimCommand creates the sim command.
func NewSimCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimOptions{}
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run the workload across simulated power losses",
		Long: `Run the workload on simulated NVM for the selected board and mode,
injecting a power loss on average every --fault-every writes and rebooting
until a boot runs to completion. The committed result is then checked
against its closed form.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSim(cmd, rootOpts, opts)
		},
	}
	cmd.Flags().Uint32Var(&opts.Items, "items", app.DefaultItems, "workload loop bound and message count")
	cmd.Flags().Uint32Var(&opts.FaultEvery, "fault-every", 0, "mean NVM writes between power losses (0 disables)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "fault injection seed")
	cmd.Flags().IntVar(&opts.MaxBoots, "max-boots", app.DefaultMaxBoots, "give up after this many boots")
	cmd.Flags().BoolVar(&opts.Checkpoint, "checkpoint", false, "run the checkpoint daemon")
	cmd.Flags().Uint32Var(&opts.Period, "period", 0, "checkpoint period in ticks (0 uses the default)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail unless the result is verified")
	return cmd
}

func runSim(cmd *cobra.Command, rootOpts *RootOptions, opts *SimOptions) error {
	sel, err := rootOpts.selection()
	if err != nil {
		return err
	}
	sel.FaultEvery = opts.FaultEvery
	sel.Checkpoint = config.Checkpoint{Enabled: opts.Checkpoint, PeriodTicks: opts.Period}
	cfg, err := config.Load(sel)
	if err != nil {
		return err
	}

	rep, err := app.Simulate(cmd.Context(), cfg, app.SimOptions{
		Options:  app.Options{Items: opts.Items},
		MaxBoots: opts.MaxBoots,
		Seed:     opts.Seed,
		Log:      rootOpts.logWriter(cmd),
	})
	if err != nil {
		return err
	}
	if err := rep.WriteText(cmd.OutOrStdout()); err != nil {
		return err
	}
	if opts.Strict && !rep.Verified() {
		return errNotVerified
	}
	return nil
}
