package main

import (
	"context"

	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Spawn, list, terminate, and resume agents",
}

var (
	spawnAgentType     string
	spawnRepoPath      string
	spawnObjectiveDesc string
	spawnAutoRoom      bool

	listRepoPath string
	listStatus   string
	listLimit    int
	listOffset   int

	terminateIDs []string

	continueAgentID string

	reportAgentID   string
	reportProgress  int
	reportMessage   string
)

var agentSpawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Spawn a new agent (spawn_agent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.api.SpawnAgent(context.Background(), map[string]interface{}{
			"agent_type":            spawnAgentType,
			"repository_path":       spawnRepoPath,
			"objective_description": spawnObjectiveDesc,
			"auto_create_room":      spawnAutoRoom,
		})
		return printResponse(resp)
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents (list_agents)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.api.ListAgents(map[string]interface{}{
			"repository_path": listRepoPath,
			"status":          listStatus,
			"limit":           listLimit,
			"offset":          listOffset,
		})
		return printResponse(resp)
	},
}

var agentTerminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Terminate one or more agents (terminate_agent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.api.TerminateAgent(map[string]interface{}{
			"agent_ids": terminateIDs,
		})
		return printResponse(resp)
	},
}

var agentContinueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Resume a terminal or idle agent's session (continue_agent_session)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.api.ContinueAgentSession(context.Background(), map[string]interface{}{
			"agent_id": continueAgentID,
		})
		return printResponse(resp)
	},
}

var agentReportProgressCmd = &cobra.Command{
	Use:   "report-progress",
	Short: "Report this agent's own progress (report_progress)",
	Long: "Invoked by a spawned agent process to report its completion percentage. " +
		"Rolls into the owning orchestration's aggregate progress when the agent " +
		"was spawned as part of one.",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.api.ReportProgress(map[string]interface{}{
			"agent_id": reportAgentID,
			"progress": reportProgress,
			"message":  reportMessage,
		})
		return printResponse(resp)
	},
}

func init() {
	agentSpawnCmd.Flags().StringVar(&spawnAgentType, "agent-type", "", "agent type (required)")
	agentSpawnCmd.Flags().StringVar(&spawnRepoPath, "repository-path", "", "repository path (required)")
	agentSpawnCmd.Flags().StringVar(&spawnObjectiveDesc, "objective-description", "", "objective description (required)")
	agentSpawnCmd.Flags().BoolVar(&spawnAutoRoom, "auto-create-room", false, "create a coordination room for this agent")

	agentListCmd.Flags().StringVar(&listRepoPath, "repository-path", "", "filter by repository path")
	agentListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	agentListCmd.Flags().IntVar(&listLimit, "limit", 50, "page size")
	agentListCmd.Flags().IntVar(&listOffset, "offset", 0, "page offset")

	agentTerminateCmd.Flags().StringSliceVar(&terminateIDs, "agent-ids", nil, "agent ids to terminate (required)")

	agentContinueCmd.Flags().StringVar(&continueAgentID, "agent-id", "", "agent id to resume (required)")

	agentReportProgressCmd.Flags().StringVar(&reportAgentID, "agent-id", "", "reporting agent id (required)")
	agentReportProgressCmd.Flags().IntVar(&reportProgress, "progress", 0, "completion percentage, 0-100")
	agentReportProgressCmd.Flags().StringVar(&reportMessage, "message", "", "human-readable progress note")

	agentCmd.AddCommand(agentSpawnCmd, agentListCmd, agentTerminateCmd, agentContinueCmd, agentReportProgressCmd)
}
