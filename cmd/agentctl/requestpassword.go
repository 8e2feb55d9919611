package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/chanagent/pkg/agent/localcontrol"
)

var requestPasswordTimeoutMs int64

var requestPasswordCmd = &cobra.Command{
	Use:   "request-password",
	Short: "Broadcast a PASSWORD_REQUEST and block for a reply",
	RunE:  runRequestPassword,
}

func init() {
	rootCmd.AddCommand(requestPasswordCmd)
	requestPasswordCmd.Flags().Int64Var(&requestPasswordTimeoutMs, "timeout-ms", 10_000, "milliseconds to wait for a PASSWORD_REPLY")
}

func runRequestPassword(cmd *cobra.Command, args []string) error {
	resp, err := roundTrip(localcontrol.Request{
		Op:        localcontrol.OpRequestPassword,
		TimeoutMs: requestPasswordTimeoutMs,
	})
	if err != nil {
		return err
	}
	if resp.Status == localcontrol.StatusError {
		return fmt.Errorf("request-password failed: %s", resp.Message)
	}
	fmt.Printf("result: %v\n", resp.Data)
	return nil
}
