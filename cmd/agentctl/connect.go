package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/chanagent/pkg/agent/localcontrol"
)

var (
	connectChannelName     string
	connectChannelPassword string
	connectChannelID       string
	connectAgentName       string
	connectEnableWebRTC    bool
	connectCheckLastSess   bool
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a channel via the running agentd",
	RunE:  runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
	connectCmd.Flags().StringVar(&connectChannelName, "channel-name", "", "channel name (required unless --channel-id is set)")
	connectCmd.Flags().StringVar(&connectChannelPassword, "channel-password", "", "channel password")
	connectCmd.Flags().StringVar(&connectChannelID, "channel-id", "", "channel id (triggers the password handshake if credentials are unknown)")
	connectCmd.Flags().StringVar(&connectAgentName, "agent-name", "", "local agent name (required)")
	connectCmd.Flags().BoolVar(&connectEnableWebRTC, "enable-webrtc", false, "enable the WebRTC signaling relay")
	connectCmd.Flags().BoolVar(&connectCheckLastSess, "check-last-session", false, "resume a persisted session id if one exists")
	connectCmd.MarkFlagRequired("agent-name")
}

func runConnect(cmd *cobra.Command, args []string) error {
	resp, err := roundTrip(localcontrol.Request{
		Op:               localcontrol.OpConnect,
		ChannelName:      connectChannelName,
		ChannelPassword:  connectChannelPassword,
		ChannelID:        connectChannelID,
		AgentName:        connectAgentName,
		EnableWebRTC:     connectEnableWebRTC,
		CheckLastSession: connectCheckLastSess,
	})
	if err != nil {
		return err
	}
	if resp.Status == localcontrol.StatusError {
		return fmt.Errorf("connect failed: %s", resp.Message)
	}
	fmt.Printf("connected: %v\n", resp.Data)
	return nil
}
