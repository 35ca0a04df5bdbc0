package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autosender/autosender/internal/worker"
)

func doResolve(cmd *cobra.Command, args []string) error {
	layout, err := worker.LayoutFromConfig(config.Worker)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "platform: %s\n", layout.Platform)
	fmt.Fprintf(out, "base dir: %s\n", layout.BaseDir)
	for i, c := range layout.Candidates() {
		fmt.Fprintf(out, "candidate %d: %s %s", i+1, c.Kind, c.Path)
		if c.Interpreter != "" {
			fmt.Fprintf(out, " (interpreter %s)", c.Interpreter)
		}
		fmt.Fprintln(out)
	}

	res, err := layout.Resolve(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "resolved: %s %s %v\n", res.Kind, res.Path, res.Args)
	return nil
}
