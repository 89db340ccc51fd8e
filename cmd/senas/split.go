package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/dataset"
)

var (
	splitRatio float64
	splitSeed  int64
)

func init() {
	splitCmd.Flags().Float64Var(&splitRatio, "ratio", 0, "override training.train_ratio")
	splitCmd.Flags().Int64Var(&splitSeed, "seed", 0, "override training.seed (0 draws a fresh seed)")
}

var splitCmd = &cobra.Command{
	Use:   "split SRC DST",
	Short: "copy SRC/<class>/ images into DST/train and DST/test",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		ratio := cfg.Training.TrainRatio
		if splitRatio != 0 {
			ratio = splitRatio
		}
		seed := cfg.Training.Seed
		if splitSeed != 0 {
			seed = splitSeed
		}
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		groups, err := dataset.Scan(args[0], dataset.DefaultImageExts)
		if err != nil {
			return err
		}
		train, test, err := dataset.Split(groups, ratio, rand.New(rand.NewSource(seed)))
		if err != nil {
			return err
		}

		report := dataset.Report(train, test)
		if !report.OK() {
			log.Warn("some classes are missing from one side of the split",
				zap.Strings("empty_train", report.EmptyTrain),
				zap.Strings("empty_test", report.EmptyTest))
		}

		if err := dataset.Materialize(train, test, args[1]); err != nil {
			return err
		}

		trainCounts, testCounts := dataset.Counts(train), dataset.Counts(test)
		for _, c := range sortedClasses(trainCounts) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\ttrain=%d\ttest=%d\n", c, trainCounts[c], testCounts[c])
		}
		log.Info("split written", zap.String("dst", args[1]), zap.Float64("ratio", ratio), zap.Int64("seed", seed))
		return nil
	},
}
