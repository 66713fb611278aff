package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teo-mateo/memento-mcp/internal/api/mcp"
)

func TestStdioTransport_Serve(t *testing.T) {
	srv := newTestServer(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}}}`,
		``, // blank lines are skipped
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`, // notification: no response frame
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	transport := mcp.NewStdioTransport(srv, strings.NewReader(input), &out)

	err := transport.Serve(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2, "expected one frame per non-notification request")

	for i, line := range lines {
		var resp struct {
			JSONRPC string            `json:"jsonrpc"`
			ID      int               `json:"id"`
			Error   *mcp.JSONRPCError `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "line %d", i)
		assert.Equal(t, "2.0", resp.JSONRPC)
		assert.Nil(t, resp.Error)
	}
}

func TestStdioTransport_ContextCancelled(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	transport := mcp.NewStdioTransport(srv, strings.NewReader(""), &out)

	err := transport.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}

func TestStdioTransport_MalformedLineStillResponds(t *testing.T) {
	srv := newTestServer(t)

	var out bytes.Buffer
	transport := mcp.NewStdioTransport(srv, strings.NewReader("{garbage\n"), &out)

	err := transport.Serve(context.Background())
	require.NoError(t, err)

	var resp struct {
		Error *mcp.JSONRPCError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeParseError, resp.Error.Code)
}
