// Package cli implements emberctl, the host tool for NVM images and the
// power-loss simulator.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ember/emberos/config"
	"ember/hal"
	"ember/internal/buildinfo"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Board   string
	Mode    string
}

// NewRootCommand creates the root command for emberctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "emberctl",
		Short:   "Ember persistent memory tool",
		Long:    "Format, inspect and recover ember NVM images, and run the workload across simulated power losses.",
		Version: buildinfo.String(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.ParseMode(opts.Mode); err != nil {
				return err
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log kernel and store events to stderr")
	cmd.PersistentFlags().StringVar(&opts.Board, "board", "host", "board from the budget table")
	cmd.PersistentFlags().StringVar(&opts.Mode, "mode", config.ModeIdempotent.String(), "persistence mode")

	cmd.AddCommand(NewBoardsCommand(opts))
	cmd.AddCommand(NewFormatCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewSimCommand(opts))

	return cmd
}

// selection builds the config selection from the global flags.
func (o *RootOptions) selection() (config.Selection, error) {
	mode, err := config.ParseMode(o.Mode)
	if err != nil {
		return config.Selection{}, err
	}
	return config.Selection{Board: o.Board, Mode: mode}, nil
}

// logger returns where verbose log lines go.
func (o *RootOptions) logger(cmd *cobra.Command) hal.Logger {
	if !o.Verbose {
		return hal.NopLogger()
	}
	return hal.WriterLogger(cmd.ErrOrStderr())
}

func (o *RootOptions) logWriter(cmd *cobra.Command) io.Writer {
	if !o.Verbose {
		return io.Discard
	}
	return cmd.ErrOrStderr()
}

func printf(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
