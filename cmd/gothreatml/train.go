package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hed1ad/gothreatml/pkg/config"
	"github.com/hed1ad/gothreatml/pkg/dataset"
	"github.com/hed1ad/gothreatml/pkg/detector"
)

var (
	trainCSV     string
	trainSamples int
	trainOut     string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the classifier ensemble and save a model bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		out := trainOut
		if out == "" {
			out = cfg.Model.BundleDir
		}

		var ds *dataset.Dataset
		if trainCSV != "" {
			fmt.Printf("Loading training data from %s...\n", trainCSV)
			ds, err = dataset.LoadCSV(trainCSV)
			if err != nil {
				return err
			}
		} else {
			fmt.Printf("Generating %d synthetic connection records (seed %d)...\n",
				trainSamples, cfg.Model.Seed)
			ds = dataset.Synthetic(cfg.Model.Seed, trainSamples)
		}

		d := detector.New(detector.WithSeed(cfg.Model.Seed))
		fmt.Printf("Training %d models on %d records...\n", len(d.ModelNames()), ds.Len())
		metrics, err := d.Train(ds)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(metrics))
		for name := range metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-16s accuracy %.4f\n", name, metrics[name].Accuracy)
		}

		if err := d.SaveBundle(out); err != nil {
			return err
		}
		fmt.Printf("Model bundle saved to %s\n", out)
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainCSV, "csv", "", "train from a CSV file instead of synthetic data")
	trainCmd.Flags().IntVar(&trainSamples, "samples", 10000, "synthetic records to generate")
	trainCmd.Flags().StringVar(&trainOut, "out", "", "bundle output directory (default from config)")
}
