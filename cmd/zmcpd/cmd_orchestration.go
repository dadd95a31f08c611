package main

import (
	"github.com/spf13/cobra"
)

var orchestrationCmd = &cobra.Command{
	Use:   "orchestration",
	Short: "Inspect and cancel orchestrations held by this process's runtime",
}

var (
	orchestrationStatusID string
	orchestrationCancelID string
)

var orchestrationStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report an orchestration's status and phase history (get_orchestration_status)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.api.GetOrchestrationStatus(map[string]interface{}{
			"orchestration_id": orchestrationStatusID,
		})
		return printResponse(resp)
	},
}

var orchestrationCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a running orchestration (cancel_orchestration)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		resp := rt.api.CancelOrchestration(map[string]interface{}{
			"orchestration_id": orchestrationCancelID,
		})
		return printResponse(resp)
	},
}

func init() {
	orchestrationStatusCmd.Flags().StringVar(&orchestrationStatusID, "orchestration-id", "", "orchestration id (required)")
	orchestrationCancelCmd.Flags().StringVar(&orchestrationCancelID, "orchestration-id", "", "orchestration id (required)")

	orchestrationCmd.AddCommand(orchestrationStatusCmd, orchestrationCancelCmd)
}
