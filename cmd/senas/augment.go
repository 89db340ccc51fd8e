package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/augment"
)

var augmentSeed int64

func init() {
	augmentCmd.Flags().Int64Var(&augmentSeed, "seed", 0, "override augment.seed (0 draws a fresh seed)")
}

var augmentCmd = &cobra.Command{
	Use:   "augment SRC DST",
	Short: "extract frames from SRC/<class>/ videos and images and write augmented JPEGs to DST/<class>/",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()
		if augmentSeed != 0 {
			cfg.Augment.Seed = augmentSeed
		}

		ctx, cancel := signalContext()
		defer cancel()

		counts, err := augment.New(cfg.Augment, log.Named("augment")).PrepareCorpus(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		for _, c := range sortedClasses(counts) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", c, counts[c])
		}
		log.Info("corpus ready", zap.String("dst", args[1]), zap.Int("classes", len(counts)))
		return nil
	},
}
