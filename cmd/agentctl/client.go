package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/sage-x-project/chanagent/pkg/agent/localcontrol"
)

// roundTrip dials controlAddr, writes one request line, reads one response
// line, and closes the connection. The local control surface accepts one
// request per line so a fresh connection per invocation keeps agentctl
// stateless between commands.
func roundTrip(req localcontrol.Request) (*localcontrol.Response, error) {
	conn, err := net.DialTimeout("tcp", controlAddr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("agentctl: dial %s: %w", controlAddr, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("agentctl: marshal request: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("agentctl: write request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("agentctl: read response: %w", err)
	}
	var resp localcontrol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("agentctl: parse response: %w", err)
	}
	return &resp, nil
}
