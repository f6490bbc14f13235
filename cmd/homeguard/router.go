package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/homeguard/internal/config"
	"github.com/goodtune/homeguard/internal/router"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// These commands talk to the router directly and bypass the pending ledger.

var internetCmd = &cobra.Command{
	Use:   "internet",
	Short: "Control internet access",
}

var internetToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Pause or resume internet access for the whole network",
	Args:  cobra.NoArgs,
	RunE:  runInternetToggle,
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Control individual devices",
}

var deviceBlockCmd = &cobra.Command{
	Use:   "block ID",
	Short: "Toggle the block on a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeviceBlock,
}

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Control app blocking",
}

var appToggleCmd = &cobra.Command{
	Use:     "toggle ID",
	Short:   "Toggle the block on an app",
	Example: `  homeguard app toggle youtube`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAppToggle,
}

func init() {
	internetCmd.AddCommand(internetToggleCmd)
	deviceCmd.AddCommand(deviceBlockCmd)
	appCmd.AddCommand(appToggleCmd)
	rootCmd.AddCommand(internetCmd, deviceCmd, appCmd)
}

func routerFromConfig() (*router.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return newRouterClient(cfg.Router, zerolog.Nop())
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 30*time.Second)
}

func runInternetToggle(cmd *cobra.Command, args []string) error {
	client, err := routerFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	status, err := client.ToggleInternet(ctx)
	if err != nil {
		return fmt.Errorf("failed to toggle internet: %w", err)
	}

	if status.InternetActive {
		color.Green("Internet resumed")
	} else {
		color.Yellow("Internet paused")
	}
	return nil
}

func runDeviceBlock(cmd *cobra.Command, args []string) error {
	client, err := routerFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	devices, err := client.BlockDevice(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to update device %s: %w", args[0], err)
	}

	for _, d := range devices {
		if string(d.ID) != args[0] && d.MACAddr != args[0] {
			continue
		}
		name := d.Name
		if name == "" {
			name = args[0]
		}
		if d.Blocked {
			color.Yellow("%s blocked", name)
		} else {
			color.Green("%s unblocked", name)
		}
		return nil
	}

	fmt.Printf("Device %s updated\n", args[0])
	return nil
}

func runAppToggle(cmd *cobra.Command, args []string) error {
	client, err := routerFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	apps, err := client.ToggleApp(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to toggle app %s: %w", args[0], err)
	}

	ids := make([]string, 0, len(apps))
	for id := range apps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		state := color.GreenString("allowed")
		if apps[id] {
			state = color.RedString("blocked")
		}
		fmt.Printf("  %-20s %s\n", id, state)
	}
	return nil
}
