package main

import (
	"github.com/spf13/cobra"
)

var seasonCmd = &cobra.Command{
	Use:   "season",
	Short: "Manage bangumi and drama season subscriptions",
	Long: `Season subscriptions announce new episodes of a season. They keep their
own records and their own sleep and at windows, apart from accounts.`,
}

var seasonAddCmd = &cobra.Command{
	Use:     "add <season id>",
	Short:   "Subscribe a destination to a season",
	Example: `  bilisub season add 28747 --to twitch:#mychannel`,
	Args:    cobra.ExactArgs(1),
	RunE:    handlerCommand("season", "add"),
}

var seasonStopCmd = &cobra.Command{
	Use:   "stop <season id|title>",
	Short: "Unsubscribe a destination from a season",
	Args:  cobra.MinimumNArgs(1),
	RunE:  handlerCommand("season", "stop"),
}

var seasonSleepCmd = &cobra.Command{
	Use:   "sleep <HH:MM-HH:MM|clear>",
	Short: "Mute season announcements for a destination during a daily window",
	Args:  cobra.ExactArgs(1),
	RunE:  handlerCommand("season", "sleep"),
}

var seasonAtCmd = &cobra.Command{
	Use:   "at <HH:MM-HH:MM|clear>",
	Short: "Mention everyone on season announcements during a daily window",
	Args:  cobra.ExactArgs(1),
	RunE:  handlerCommand("season", "at"),
}

var seasonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List season subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return printSubscriptions(cmd, a.Seasons, a.SeasonSchedule, "season")
	},
}

func init() {
	for _, c := range []*cobra.Command{seasonAddCmd, seasonStopCmd, seasonSleepCmd, seasonAtCmd} {
		c.Flags().StringVar(&destination, "to", "console:cli", "destination as scheme:target")
		seasonCmd.AddCommand(c)
	}
	seasonCmd.AddCommand(seasonListCmd)
	rootCmd.AddCommand(seasonCmd)
}
