package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/config"
	"github.com/ayusman/senas/internal/dataset"
	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/store"
	"github.com/ayusman/senas/internal/trainer"
)

// HistoryFile is written next to the artifact.
const HistoryFile = "history.csv"

var (
	trainFeatures  string
	trainImages    string
	trainFromStore bool
	trainKind      string
	trainEpochs    int
	trainOut       string
)

func init() {
	f := trainCmd.Flags()
	f.StringVar(&trainFeatures, "features", "", "landmark feature file (label,f0..f62) to split and train on")
	f.StringVar(&trainImages, "images", "", "image dataset root: either <class>/ dirs, or train/ and test/ from `senas split`")
	f.BoolVar(&trainFromStore, "from-store", false, "train on the landmark samples collected through /api/samples")
	f.StringVar(&trainKind, "kind", "", "override model.kind (softmax, convnet, centroid)")
	f.IntVar(&trainEpochs, "epochs", 0, "override training.epochs")
	f.StringVarP(&trainOut, "out", "o", "", "artifact directory (defaults to model.dir)")
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "train a classifier and save the model artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		if trainKind != "" {
			cfg.Model.Kind = trainKind
		}
		if trainEpochs != 0 {
			cfg.Training.Epochs = trainEpochs
		}
		if trainImages != "" {
			cfg.Features.Mode = features.ModeImage
		}
		out := cfg.Model.Dir
		if trainOut != "" {
			out = trainOut
		}

		st, err := openStore(cfg)
		if err != nil {
			return errors.Wrap(err, "open store")
		}
		defer st.Close()

		trainSet, testSet, err := loadTrainingData(cfg, st, log)
		if err != nil {
			return err
		}

		tr, err := trainer.New(cfg.TrainerConfig(), log.Named("trainer"))
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		res, err := tr.WithSink(trainer.NewStoreSink(st.Runs())).Train(ctx, trainSet, testSet)
		if err != nil {
			return err
		}

		if err := res.Artifact.Save(out); err != nil {
			return err
		}
		if err := st.Runs().SetArtifactDir(res.RunID, out); err != nil {
			log.Warn("failed to record artifact location", zap.Error(err))
		}
		if err := writeHistory(filepath.Join(out, HistoryFile), res.History); err != nil {
			log.Warn("failed to write training history", zap.Error(err))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "run %s: best %s %.4f at epoch %d, saved to %s\n",
			res.RunID, res.Monitor, res.BestValue, res.BestEpoch, out)
		return nil
	},
}

// loadTrainingData resolves exactly one of --features, --images and
// --from-store into a train/test partition.
func loadTrainingData(cfg config.Config, st *store.Store, log *zap.Logger) (train, test map[string][]dataset.Sample, err error) {
	sources := 0
	for _, set := range []bool{trainFeatures != "", trainImages != "", trainFromStore} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, nil, errors.New("pass exactly one of --features, --images or --from-store")
	}

	seed := cfg.Training.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	var groups map[string][]dataset.Sample
	switch {
	case trainFeatures != "":
		f, err := os.Open(trainFeatures)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		if groups, err = dataset.ReadFeatureFile(f, features.LandmarkDim); err != nil {
			return nil, nil, err
		}

	case trainImages != "":
		trainDir, testDir := filepath.Join(trainImages, "train"), filepath.Join(trainImages, "test")
		if isDir(trainDir) && isDir(testDir) {
			if train, err = dataset.LoadImageSamples(trainDir); err != nil {
				return nil, nil, err
			}
			if test, err = dataset.LoadImageSamples(testDir); err != nil {
				return nil, nil, err
			}
			return train, test, nil
		}
		if groups, err = dataset.LoadImageSamples(trainImages); err != nil {
			return nil, nil, err
		}

	case trainFromStore:
		rows, err := st.Samples().List("")
		if err != nil {
			return nil, nil, err
		}
		samples, err := dataset.FromCollected(rows)
		if err != nil {
			return nil, nil, err
		}
		groups = dataset.Group(samples)
	}

	if train, test, err = dataset.Split(groups, cfg.Training.TrainRatio, rng); err != nil {
		return nil, nil, err
	}
	if report := dataset.Report(train, test); !report.OK() {
		log.Warn("some classes are missing from one side of the split",
			zap.Strings("empty_train", report.EmptyTrain),
			zap.Strings("empty_test", report.EmptyTest))
	}
	return train, test, nil
}

func writeHistory(path string, history []trainer.EpochMetrics) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := trainer.WriteHistoryCSV(f, history); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
