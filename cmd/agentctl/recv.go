package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/chanagent/pkg/agent/localcontrol"
)

var recvTimeoutMs int64

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Block for one receive-pipeline pull and print the delivered events",
	RunE:  runRecv,
}

func init() {
	rootCmd.AddCommand(recvCmd)
	recvCmd.Flags().Int64Var(&recvTimeoutMs, "timeout-ms", 10_000, "milliseconds to wait for the pull to complete")
}

func runRecv(cmd *cobra.Command, args []string) error {
	resp, err := roundTrip(localcontrol.Request{
		Op:        localcontrol.OpReceive,
		TimeoutMs: recvTimeoutMs,
	})
	if err != nil {
		return err
	}
	if resp.Status == localcontrol.StatusError {
		return fmt.Errorf("recv failed: %s", resp.Message)
	}
	out, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
