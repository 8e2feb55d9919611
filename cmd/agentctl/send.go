package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/chanagent/pkg/agent/localcontrol"
)

var (
	sendDestination string
	sendEventType   string
	sendContent     string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send an event on the connected channel",
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendDestination, "to", "", "destination agent name, empty broadcasts to the channel")
	sendCmd.Flags().StringVar(&sendEventType, "type", "CHAT_TEXT", "event type")
	sendCmd.Flags().StringVar(&sendContent, "content", "", "event content")
}

func runSend(cmd *cobra.Command, args []string) error {
	resp, err := roundTrip(localcontrol.Request{
		Op:          localcontrol.OpSend,
		Destination: sendDestination,
		EventType:   sendEventType,
		Content:     []byte(sendContent),
	})
	if err != nil {
		return err
	}
	if resp.Status == localcontrol.StatusError {
		return fmt.Errorf("send failed: %s", resp.Message)
	}
	fmt.Printf("sent: %v\n", resp.Data)
	return nil
}
