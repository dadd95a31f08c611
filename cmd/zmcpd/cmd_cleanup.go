package main

import (
	"github.com/spf13/cobra"
)

var (
	cleanupRepoPath string
	cleanupStaleMin int
	cleanupDryRun   bool
	cleanupRooms    bool
	cleanupNotify   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep stale agents and rooms (cleanup_stale_agents)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.api.CleanupStaleAgents(map[string]interface{}{
			"repository_path":      cleanupRepoPath,
			"stale_minutes":        cleanupStaleMin,
			"dry_run":              cleanupDryRun,
			"include_room_cleanup": cleanupRooms,
			"notify_participants":  cleanupNotify,
		})
		return printResponse(resp)
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupRepoPath, "repository-path", "", "repository path")
	cleanupCmd.Flags().IntVar(&cleanupStaleMin, "stale-minutes", 30, "heartbeat age (minutes) considered stale")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report without terminating")
	cleanupCmd.Flags().BoolVar(&cleanupRooms, "include-room-cleanup", false, "also close affected rooms")
	cleanupCmd.Flags().BoolVar(&cleanupNotify, "notify-participants", false, "post a notification before closing rooms")
}
