package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventMessageResultCursorPreservesLimit(t *testing.T) {
	result := EventMessageResult{NextGlobalOffset: 44, NextLocalOffset: 2}
	cursor := result.Cursor(20)
	require.Equal(t, ReceiveConfig{GlobalOffset: 44, LocalOffset: 2, Limit: 20}, cursor)
}
