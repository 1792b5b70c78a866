package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hed1ad/gothreatml/pkg/alerts"
	"github.com/hed1ad/gothreatml/pkg/capture"
	"github.com/hed1ad/gothreatml/pkg/config"
	"github.com/hed1ad/gothreatml/pkg/detector"
	"github.com/hed1ad/gothreatml/pkg/service"
)

var (
	replayFile  string
	replayModel string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Score every packet of a PCAP file through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		d := detector.New(detector.WithSeed(cfg.Model.Seed))
		if err := d.LoadBundle(cfg.Model.BundleDir); err != nil {
			return fmt.Errorf("load bundle (run train first): %w", err)
		}

		store, err := alerts.OpenStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		notifier := alerts.NewNotifier()
		defer notifier.Close()
		pipeline := service.NewPipeline(d, store, notifier)

		reader, err := capture.NewFileReader(replayFile)
		if err != nil {
			return err
		}
		defer reader.Close()

		samples, err := reader.Read()
		if err != nil {
			return err
		}
		fmt.Printf("Scoring %d records from %s...\n", len(samples), replayFile)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		byClass := make(map[string]int)
		for _, s := range samples {
			res, err := pipeline.Score(ctx, service.ScoreRequest{
				Fields:   s.Record,
				SourceIP: s.SourceIP,
				Model:    replayModel,
			})
			if err != nil {
				return err
			}
			byClass[res.Prediction.Class]++
		}

		classes := make([]string, 0, len(byClass))
		for class := range byClass {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		for _, class := range classes {
			fmt.Printf("  %-8s %d\n", class, byClass[class])
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFile, "file", "", "PCAP file to replay")
	replayCmd.Flags().StringVar(&replayModel, "model", "", "model to score with (default from bundle)")
	replayCmd.MarkFlagRequired("file")
}
