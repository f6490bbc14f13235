package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/homeguard/internal/config"
	"github.com/goodtune/homeguard/internal/monitor"
	"github.com/goodtune/homeguard/internal/router"
	"github.com/goodtune/homeguard/internal/traffic"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	statusSample time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show router status, traffic and devices",
	Long: `Query the router directly and print connectivity, the blocklist job state,
data usage and connected devices. With --sample, stats are read twice and the
throughput between the two readings is shown.`,
	Example: `  homeguard status
  homeguard status --sample 5s`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().DurationVar(&statusSample, "sample", 0, "Measure throughput over this interval")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	client, err := newRouterClient(cfg.Router, zerolog.Nop())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read router status: %w", err)
	}

	job := router.JobIdle
	if adblock, err := client.AdblockStatus(ctx); err == nil {
		job = adblock.Status
	}

	estimator := traffic.NewEstimator()
	stats, err := client.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read router stats: %w", err)
	}
	observe(estimator, stats)

	rate := -1.0
	if statusSample > 0 {
		select {
		case <-time.After(statusSample):
		case <-ctx.Done():
			return ctx.Err()
		}
		stats, err = client.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read router stats: %w", err)
		}
		rate = observe(estimator, stats)
	}

	printStatus(status, job, stats, rate)
	return nil
}

func observe(e *traffic.Estimator, stats *router.Stats) float64 {
	if stats.Traffic == nil {
		return 0
	}
	return e.Observe(traffic.Sample{
		RxBytes:    uint64(stats.Traffic.Rx),
		TxBytes:    uint64(stats.Traffic.Tx),
		ObservedAt: time.Now(),
	})
}

func printStatus(status *router.Status, job router.JobStatus, stats *router.Stats, rate float64) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	line := monitor.StatusText(status.InternetActive, job)
	switch line {
	case monitor.StatusOperational:
		_, _ = green.Println(line)
	case monitor.StatusLoadingBlocklist:
		_, _ = yellow.Println(line)
	default:
		_, _ = red.Println(line)
	}

	if stats.Traffic != nil {
		_, _ = bold.Print("Traffic:    ")
		fmt.Printf("rx %s, tx %s\n",
			traffic.FormatBytes(uint64(stats.Traffic.Rx)),
			traffic.FormatBytes(uint64(stats.Traffic.Tx)))
	}
	if rate >= 0 {
		_, _ = bold.Print("Throughput: ")
		fmt.Println(traffic.FormatMbps(rate))
	}
	if stats.DataUsage.Total != "" {
		_, _ = bold.Print("Data usage: ")
		fmt.Println(stats.DataUsage.Total)
	}

	_, _ = bold.Printf("Devices:    %d\n", len(stats.Devices))
	for _, d := range stats.Devices {
		name := d.Hostname
		if name == "" {
			name = d.Name
		}
		if name == "" {
			name = d.MACAddr
		}
		marker := green.Sprint("●")
		if d.Blocked {
			marker = red.Sprint("●")
		}
		fmt.Fprintf(os.Stdout, "  %s %-24s %-17s %s\n", marker, name, d.MACAddr, d.IPAddr)
	}
}
