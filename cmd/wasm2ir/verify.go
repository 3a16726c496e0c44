package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/verify"
)

func getCmdVerify(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <in.wasm> <func> [args...]",
		Short: "Compare a function's outcome with wazero",
		Long: `Compare a function's outcome with wazero.

  The function runs once translated and once under wazero with the same
  arguments, guest args and environment. Results, faults, exit codes and
  stdout must agree.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := afero.ReadFile(gs.fs, args[0])
			if err != nil {
				return errors.New(errors.PhaseDecode, errors.KindNotFound).
					Path(args[0]).Detail("read input").Cause(err).Build()
			}

			res, err := verify.Run(gs.ctx, data, args[1], args[2:], verify.Options{
				Args: gs.cfg.Args,
				Env:  gs.cfg.Env,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(gs.stdout, "translated: %s\n", res.Got.String(res.Type))
			fmt.Fprintf(gs.stdout, "wazero:     %s\n", res.Want.String(res.Type))
			if !res.Match {
				fmt.Fprintln(gs.stdout, color.RedString("MISMATCH")+" "+res.Reason)
				return errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
					Path(args[1]).Detail("outcomes differ").Build()
			}
			fmt.Fprintln(gs.stdout, color.GreenString("MATCH"))
			return nil
		},
	}
}
