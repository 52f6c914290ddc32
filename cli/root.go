package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wraptrace/wraptrace/preload"
	"github.com/wraptrace/wraptrace/realsym"
)

var rootCmd = &cobra.Command{
	Use:          "wraptrace",
	Short:        "Build-time and debugging helpers for the wraptrace preload shim",
	SilenceUsage: true,
}

var (
	offsetsOutput string

	genOffsetsCmd = &cobra.Command{
		Use:   "gen-offsets <library> <symbol>...",
		Short: "Emit the symbol offset table the resolver consumes, read from a library's ELF symbol tables",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			library := args[0]
			offsets := make(realsym.Offsets, len(args)-1)
			for _, symbol := range args[1:] {
				off, err := realsym.ELFSymbolOffset(library, symbol)
				if err != nil {
					return err
				}
				offsets[symbol] = off
			}

			out := cmd.OutOrStdout()
			if offsetsOutput != "" {
				f, err := os.Create(offsetsOutput)
				if err != nil {
					return fmt.Errorf("create offset table %s: %w", offsetsOutput, err)
				}
				defer f.Close()
				out = f
			}
			return realsym.WriteOffsets(out, offsets)
		},
	}
)

var (
	preloadShims []string

	preloadCmd = &cobra.Command{
		Use:   "preload [current-value]",
		Short: "Show the LD_PRELOAD value the shim would propagate to a child process",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := preload.Config{Paths: preloadShims}
			old := ""
			if len(args) == 1 {
				old = args[0]
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Propagate(old))
			return nil
		},
	}
)

func init() {
	genOffsetsCmd.Flags().StringVarP(&offsetsOutput, "output", "o", "", "Write the table to a file instead of stdout")
	preloadCmd.Flags().StringSliceVar(&preloadShims, "shim", nil, "Shim object path to inject (repeatable)")
	_ = preloadCmd.MarkFlagRequired("shim")

	rootCmd.AddCommand(genOffsetsCmd)
	rootCmd.AddCommand(preloadCmd)
}
