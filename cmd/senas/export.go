package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/dataset"
)

var (
	exportOut   string
	exportLabel string
)

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "feature file path (defaults to stdout)")
	exportCmd.Flags().StringVar(&exportLabel, "label", "", "export only this label")
}

var exportCmd = &cobra.Command{
	Use:   "export-samples",
	Short: "write collected landmark samples as a label,f0..f62 feature file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		st, err := openStore(cfg)
		if err != nil {
			return errors.Wrap(err, "open store")
		}
		defer st.Close()

		rows, err := st.Samples().List(exportLabel)
		if err != nil {
			return err
		}
		samples, err := dataset.FromCollected(rows)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := dataset.WriteFeatureFile(w, samples); err != nil {
			return err
		}
		log.Info("samples exported", zap.Int("count", len(samples)), zap.String("output", exportOut))
		return nil
	},
}
