// Package main is the streakwatch CLI and daemon.
//
// COMMANDS:
//
//	streakwatch run               poll on the adaptive schedule and serve the control API
//	streakwatch sync              run one full cycle now
//	streakwatch list              show tracked users
//	streakwatch add <handle>      track a friend
//	streakwatch remove <handle>   stop tracking a user
//	streakwatch self <handle>     mark the local user
//	streakwatch mute <YYYY-MM-DD> silence notifications through that day
//	streakwatch unmute
//	streakwatch login             authorize GitHub for the solution mirror
//	streakwatch logout            forget the GitHub token
//	streakwatch whoami            show the GitHub account in use
//	streakwatch mirror retry      replay queued mirror writes
//	streakwatch token             issue a control API bearer token
//
// One-shot commands open the same store as the daemon and go through the
// same command dispatcher, so the CLI and the HTTP API share one code path.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/streakwatch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "streakwatch",
	Short: "Track LeetCode streaks for you and your friends",
	Long: `streakwatch polls LeetCode for a set of users, keeps their streaks and
calendars in a local store, notifies on milestones and broken streaks, and
can mirror your accepted solutions to a GitHub repository.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddGroup(
		&cobra.Group{ID: "daemon", Title: "Daemon:"},
		&cobra.Group{ID: "users", Title: "Tracked users:"},
		&cobra.Group{ID: "github", Title: "GitHub mirror:"},
	)
	rootCmd.AddCommand(
		runCmd, syncCmd, tokenCmd,
		listCmd, addCmd, removeCmd, selfCmd, muteCmd, unmuteCmd,
		loginCmd, logoutCmd, whoamiCmd, mirrorCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
