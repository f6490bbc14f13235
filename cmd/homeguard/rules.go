package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/homeguard/internal/config"
	"github.com/goodtune/homeguard/internal/control"
	"github.com/goodtune/homeguard/internal/policy"
	"github.com/spf13/cobra"
)

var (
	controlURL string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Edit block and allow rules on a running daemon",
	Long: `Edit the block and allow lists through the daemon's control API. Edits are
pending until "rules apply" sends them to the router as one batch.`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list [block|allow]",
	Short: "List rules",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:     "add LIST DOMAIN",
	Short:   "Add a domain to a list",
	Example: `  homeguard rules add block games.example.com`,
	Args:    cobra.ExactArgs(2),
	RunE:    runRulesAdd,
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove LIST ID",
	Short: "Remove a rule by id",
	Args:  cobra.ExactArgs(2),
	RunE:  runRulesRemove,
}

var rulesToggleCmd = &cobra.Command{
	Use:   "toggle LIST ID",
	Short: "Enable or disable a rule by id",
	Args:  cobra.ExactArgs(2),
	RunE:  runRulesToggle,
}

var rulesPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show changes not yet applied",
	Args:  cobra.NoArgs,
	RunE:  runRulesPending,
}

var rulesApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Send pending changes to the router",
	Args:  cobra.NoArgs,
	RunE:  runRulesApply,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream notices from a running daemon",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func init() {
	for _, c := range []*cobra.Command{rulesCmd, eventsCmd} {
		c.PersistentFlags().StringVar(&controlURL, "control", "", "Control API URL (default from config)")
	}

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesRemoveCmd, rulesToggleCmd, rulesPendingCmd, rulesApplyCmd)
	rootCmd.AddCommand(rulesCmd, eventsCmd)
}

// newControlClient builds a client for --control, or for the configured
// control address when the flag is empty.
func newControlClient(timeout time.Duration) (*control.Client, error) {
	target := controlURL
	if target == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		host := cfg.Control.BindAddress
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		target = "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Control.Port))
	}
	return control.NewClient(target, timeout)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	lists := policy.Lists()
	if len(args) == 1 {
		list, err := policy.ParseList(args[0])
		if err != nil {
			return err
		}
		lists = []policy.List{list}
	}

	client, err := newControlClient(10 * time.Second)
	if err != nil {
		return err
	}
	resp, err := client.Rules(cmd.Context())
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)
	for _, list := range lists {
		_, _ = cyan.Printf("[%s]\n", list)
		rules := resp.Lists[list]
		if len(rules) == 0 {
			_, _ = dim.Println("  (empty)")
		}
		for _, r := range rules {
			state := color.GreenString("on ")
			if !r.Active {
				state = color.YellowString("off")
			}
			fmt.Printf("  %s  %-40s %s\n", state, r.Domain, dim.Sprint(r.ID))
		}
	}
	printState(resp.State)
	return nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	list, err := policy.ParseList(args[0])
	if err != nil {
		return err
	}

	client, err := newControlClient(10 * time.Second)
	if err != nil {
		return err
	}
	resp, err := client.AddRule(cmd.Context(), list, args[1])
	if err != nil {
		return err
	}

	color.Green("%s added to pending changes (id %s)", resp.Rule.Domain, resp.Rule.ID)
	printState(resp.State)
	return nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	list, err := policy.ParseList(args[0])
	if err != nil {
		return err
	}

	client, err := newControlClient(10 * time.Second)
	if err != nil {
		return err
	}
	if err := client.RemoveRule(cmd.Context(), list, policy.RuleID(args[1])); err != nil {
		return err
	}

	color.Green("Rule %s removed (pending apply)", args[1])
	return nil
}

func runRulesToggle(cmd *cobra.Command, args []string) error {
	list, err := policy.ParseList(args[0])
	if err != nil {
		return err
	}

	client, err := newControlClient(10 * time.Second)
	if err != nil {
		return err
	}
	resp, err := client.ToggleRule(cmd.Context(), list, policy.RuleID(args[1]))
	if err != nil {
		return err
	}

	verb := "enabled"
	if !resp.Rule.Active {
		verb = "disabled"
	}
	color.Green("%s %s (pending apply)", resp.Rule.Domain, verb)
	printState(resp.State)
	return nil
}

func runRulesPending(cmd *cobra.Command, args []string) error {
	client, err := newControlClient(10 * time.Second)
	if err != nil {
		return err
	}
	resp, err := client.Changes(cmd.Context())
	if err != nil {
		return err
	}

	if len(resp.Changes) == 0 {
		fmt.Println("No pending changes")
		return nil
	}
	for _, c := range resp.Changes {
		fmt.Printf("  #%-4d %-5s %-8s %s\n", c.Sequence, c.List, c.Action, c.Domain)
	}
	printState(resp.State)
	return nil
}

func runRulesApply(cmd *cobra.Command, args []string) error {
	// The router reloads DNS before answering
	client, err := newControlClient(90 * time.Second)
	if err != nil {
		return err
	}
	resp, err := client.Apply(cmd.Context())
	if err != nil {
		return err
	}

	if resp.Applied == 0 {
		fmt.Println("No pending changes")
		return nil
	}
	color.Green("Changes applied successfully! DNS reloading...")
	printState(resp.State)
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	client, err := newControlClient(10 * time.Second)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return client.Events(ctx, func(ev policy.Event) {
		stamp := ev.At.Local().Format("15:04:05")
		notice := ev.Notice
		if notice == "" {
			notice = string(ev.Kind)
		}
		switch ev.Level {
		case policy.LevelError:
			fmt.Printf("%s %s\n", stamp, color.RedString(notice))
		case policy.LevelSuccess:
			fmt.Printf("%s %s\n", stamp, color.GreenString(notice))
		default:
			fmt.Printf("%s %s\n", stamp, notice)
		}
	})
}

func printState(state policy.State) {
	switch {
	case state.Applying:
		color.Yellow("Applying %d changes...", state.Pending)
	case state.Pending > 0:
		color.Yellow("%d pending change(s), run \"homeguard rules apply\"", state.Pending)
	}
	if state.LastError != "" {
		color.Red("Last apply failed: %s", state.LastError)
	}
}
