package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"zmcptools/internal/orchestrator"
)

var objectiveCmd = &cobra.Command{
	Use:   "objective",
	Short: "Create objectives and run full orchestrations",
}

var (
	createRepoPath string
	createObjType  string
	createTitle    string
	createDesc     string
	createPriority int

	orchTitle     string
	orchObjective string
	orchRepoPath  string
)

var objectiveCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a standalone objective (create_objective)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.api.CreateObjective(map[string]interface{}{
			"repository_path": createRepoPath,
			"objective_type":  createObjType,
			"title":           createTitle,
			"description":     createDesc,
			"priority":        createPriority,
		})
		return printResponse(resp)
	},
}

// orchestrationPollInterval is how often this command polls the orchestrator
// for terminal status while it holds the foreground waiting on a run it
// started.
const orchestrationPollInterval = time.Second

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run a full phased orchestration for an objective (orchestrate_objective)",
	Long: "Starts the orchestration and blocks until it reaches a terminal status, " +
		"printing its final phase history. Ctrl-C cancels the orchestration in place " +
		"(cancel_orchestration) rather than merely detaching from it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		started := rt.api.OrchestrateObjective(context.Background(), map[string]interface{}{
			"title":          orchTitle,
			"objective":      orchObjective,
			"repositoryPath": orchRepoPath,
		})
		if !started.Success {
			return printResponse(started)
		}
		data, _ := started.Data.(map[string]interface{})
		orchestrationID, _ := data["orchestrationId"].(string)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		ticker := time.NewTicker(orchestrationPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("orchestrate interrupted, cancelling", zap.String("orchestration_id", orchestrationID))
				if err := rt.orchestrator.CancelOrchestration(orchestrationID); err != nil {
					return err
				}
				return printResponse(rt.api.GetOrchestrationStatus(map[string]interface{}{"orchestrationId": orchestrationID}))
			case <-ticker.C:
				status, _, ok := rt.orchestrator.Status(orchestrationID)
				if !ok {
					continue
				}
				if status == orchestrator.RunCompleted || status == orchestrator.RunFailed || status == orchestrator.RunCancelled {
					return printResponse(rt.api.GetOrchestrationStatus(map[string]interface{}{"orchestrationId": orchestrationID}))
				}
			}
		}
	},
}

func init() {
	objectiveCreateCmd.Flags().StringVar(&createRepoPath, "repository-path", "", "repository path (required)")
	objectiveCreateCmd.Flags().StringVar(&createObjType, "objective-type", "", "objective type (required)")
	objectiveCreateCmd.Flags().StringVar(&createTitle, "title", "", "objective title (required)")
	objectiveCreateCmd.Flags().StringVar(&createDesc, "description", "", "objective description (required)")
	objectiveCreateCmd.Flags().IntVar(&createPriority, "priority", 0, "objective priority")

	orchestrateCmd.Flags().StringVar(&orchTitle, "title", "", "orchestration title (required)")
	orchestrateCmd.Flags().StringVar(&orchObjective, "objective", "", "objective description (required)")
	orchestrateCmd.Flags().StringVar(&orchRepoPath, "repository-path", "", "repository path (required)")

	objectiveCmd.AddCommand(objectiveCreateCmd, orchestrateCmd)
}
