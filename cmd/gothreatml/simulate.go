package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/gothreatml/pkg/dataset"
	"github.com/hed1ad/gothreatml/pkg/service"
)

var (
	simulateAddr     string
	simulateInterval time.Duration
	simulateCount    int
	simulateSeed     int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Fire synthetic score requests at a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		seed := simulateSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))
		client := &http.Client{Timeout: 10 * time.Second}
		url := simulateAddr + "/predict"

		for i := 0; i < simulateCount; i++ {
			if i > 0 {
				time.Sleep(simulateInterval)
			}

			rec := dataset.Synthetic(rng.Int63(), 1).Records[0]
			payload, err := json.Marshal(service.ScoreRequest{
				Fields:   rec,
				SourceIP: fmt.Sprintf("192.168.%d.%d", rng.Intn(256), 1+rng.Intn(254)),
			})
			if err != nil {
				return err
			}

			resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
			}

			var res service.ScoreResult
			if err := json.Unmarshal(body, &res); err != nil {
				return err
			}
			fmt.Printf("[%3d] %-8s confidence %.2f alert #%d\n",
				i+1, res.Prediction.Class, res.Prediction.Confidence, res.AlertID)
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAddr, "addr", "http://localhost:5000", "server base URL")
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", time.Second, "delay between requests")
	simulateCmd.Flags().IntVar(&simulateCount, "count", 10, "number of requests to send")
	simulateCmd.Flags().Int64Var(&simulateSeed, "seed", 0, "synthetic record seed (0 = time-based)")
}
