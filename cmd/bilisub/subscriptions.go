package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"bilisub/pkg/app"
	"bilisub/pkg/auth"
	"bilisub/pkg/chat"
	"bilisub/pkg/command"
	"bilisub/pkg/schedule"
	"bilisub/pkg/supervisor"
	"bilisub/pkg/ui"

	"github.com/spf13/cobra"
)

var destination string

var addCmd = &cobra.Command{
	Use:   "add <uid|name>",
	Short: "Subscribe a destination to an account",
	Example: `  bilisub add 2 --to twitch:#mychannel
  bilisub add "some uploader" --to telegram:-100123456`,
	Args: cobra.MinimumNArgs(1),
	RunE: handlerCommand("add"),
}

var stopCmd = &cobra.Command{
	Use:   "stop <uid|name>",
	Short: "Unsubscribe a destination from an account",
	Args:  cobra.MinimumNArgs(1),
	RunE:  handlerCommand("stop"),
}

var sleepCmd = &cobra.Command{
	Use:   "sleep <HH:MM-HH:MM|clear>",
	Short: "Mute a destination during a daily window",
	Args:  cobra.ExactArgs(1),
	RunE:  handlerCommand("sleep"),
}

var atCmd = &cobra.Command{
	Use:   "at <HH:MM-HH:MM|clear>",
	Short: "Mention everyone in a destination during a daily window",
	Args:  cobra.ExactArgs(1),
	RunE:  handlerCommand("at"),
}

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search Bilibili accounts by name",
	Args:  cobra.MinimumNArgs(1),
	RunE:  handlerCommand("search"),
}

var subsCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscriptions",
	RunE:  runListSubscriptions,
}

func init() {
	for _, c := range []*cobra.Command{addCmd, stopCmd, sleepCmd, atCmd} {
		c.Flags().StringVar(&destination, "to", "console:cli", "destination as scheme:target")
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(subsCmd)
}

// openApp builds an application that does not poll
func openApp(ctx context.Context) (*app.App, error) {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	opts := app.Options{Version: version, Offline: true}
	if manager, err := auth.NewManager(""); err == nil {
		opts.Credentials = manager
	}
	return app.New(ctx, cfg, log, opts)
}

// handlerCommand runs name through the same handler chat commands use.
// prefix is prepended to the arguments, for "season add 42" and the like.
func handlerCommand(name string, prefix ...string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		dest := destination
		if name != "search" {
			if dest, err = chat.NormalizeDestination(dest); err != nil {
				return err
			}
		}

		reply, err := a.Commands.Execute(ctx, command.Request{
			Destination: dest,
			User:        "cli",
			Privileged:  true,
			Name:        name,
			Args:        append(prefix, args...),
		})
		if err != nil {
			return err
		}
		ui.PrintSuccess(reply)
		return nil
	}
}

func runListSubscriptions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return printSubscriptions(cmd, a.Supervisor, a.Schedule, "uid")
}

func printSubscriptions(cmd *cobra.Command, sup *supervisor.Supervisor, sched *schedule.Store, idColumn string) error {
	statuses, err := sup.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		ui.PrintInfo("Subscriptions", "none")
		return nil
	}

	table := ui.NewTable(cmd.OutOrStdout(), idColumn, "name", "destinations")
	for _, s := range statuses {
		table.AddRow(strconv.FormatInt(s.UID, 10), s.Name, strings.Join(s.Destinations, ", "))
	}
	if err := table.Render(); err != nil {
		return err
	}

	windows := sched.Windows()
	if len(windows) == 0 {
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout())
	wt := ui.NewTable(cmd.OutOrStdout(), "destination", "mode", "window")
	for _, w := range windows {
		wt.AddRow(w.Destination, string(w.Mode), w.Range.String())
	}
	return wt.Render()
}
