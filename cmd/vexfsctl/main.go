package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lspecian/vexfs-sub002/pkg/config"
	"github.com/lspecian/vexfs-sub002/pkg/elog"
	"github.com/lspecian/vexfs-sub002/pkg/store"
)

var log elog.View = elog.Discard

var (
	flagVerbose   bool
	flagDebug     bool
	flagCfgFile   string
	flagTotalBlk  int64
	flagTotalInos int64
)

var rootCmd = &cobra.Command{
	Use:   "vexfsctl",
	Short: "format, mount, and inspect a vexfs container",
}

var formatCmd = &cobra.Command{
	Use:   "format CONTAINER",
	Short: "lay out a new container file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}
		s, err := store.Format(args[0], store.FormatParams{
			TotalBlocks: flagTotalBlk,
			TotalInodes: flagTotalInos,
			Options:     opts,
			View:        log,
		})
		if err != nil {
			return err
		}
		defer s.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "formatted %s\n", args[0])
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat CONTAINER",
	Short: "mount a container and print its summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}
		s, err := store.Open(args[0], opts, log)
		if err != nil {
			return err
		}
		defer s.Close()
		st := s.Stat()
		fmt.Fprintf(cmd.OutOrStdout(), "blocks: %d/%d free\ninodes: %d/%d free\njournal occupancy: %.1f%%\nvectors: %d\nhnsw nodes: %d (needs_rebuild=%v)\n",
			st.FreeBlocks, st.TotalBlocks, st.FreeInodes, st.TotalInodes, st.JournalOccupancy*100, st.VectorCount, st.HNSWNodeCount, st.HNSWNeedsRebuild)
		return nil
	},
}

func loadOptions(cmd *cobra.Command) (config.Options, error) {
	opts, err := config.Load(flagCfgFile)
	if err != nil {
		return config.Options{}, err
	}
	config.BindFlags(cmd.Flags(), &opts)
	return opts, nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&flagCfgFile, "config", "", "path to a vexfs config file")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		log = &elog.CLI{IsVerbose: flagVerbose, IsDebug: flagDebug}
	}

	formatCmd.Flags().Int64Var(&flagTotalBlk, "total-blocks", 1<<20, "container size in blocks")
	formatCmd.Flags().Int64Var(&flagTotalInos, "total-inodes", 1<<16, "inode table capacity")

	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(statCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
