package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KentBeck/LivingObjects-sub000/vm/bundle"
)

var runStats bool

func init() {
	runCmd.Flags().BoolVar(&runStats, "stats", false, "print heap and interpreter statistics after the run")
}

var runCmd = &cobra.Command{
	Use:   "run <bundle.cbor>",
	Short: "Define a bundle's classes and evaluate its entry method",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newVM()
		if err != nil {
			return err
		}
		b, err := bundle.ReadFile(args[0])
		if err != nil {
			return err
		}

		start := time.Now()
		result, err := bundle.Run(v, b)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)
		log.Debugf("ran %s in %s", args[0], elapsed)

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, v.PrintString(result))
		if runStats {
			st := v.Heap().Stats()
			fmt.Fprintf(out, "sends: %d\n", v.Interpreter().Sends())
			fmt.Fprintf(out, "collections: %d\n", st.Collections)
			fmt.Fprintf(out, "heap: %d/%d words, %d live objects\n", st.WordsInUse, st.SpaceWords, st.LiveHandles)
			fmt.Fprintf(out, "time: %s\n", elapsed)
		}
		return nil
	},
}
