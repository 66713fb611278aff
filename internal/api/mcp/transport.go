package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
)

// StdioTransport bridges an MCP Server to a client speaking line-delimited
// JSON-RPC 2.0 over stdin/stdout. Each request is one newline-terminated
// line on stdin; each response is one newline-terminated line on stdout.
//
// All diagnostic output goes to stderr through a dedicated logger. Stray
// bytes on stdout would corrupt the protocol framing, so nothing else may
// write there.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *log.Logger
}

// NewStdioTransport constructs a transport reading from in and writing to
// out. With real stdio:
//
//	t := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)
//	t.Serve(ctx)
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: log.New(os.Stderr, "memento-mcp: ", log.LstdFlags),
	}
}

// Serve processes requests until the input stream closes or ctx is
// cancelled. Requests are handled synchronously in arrival order; the MCP
// protocol does not require concurrency at the transport level.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)

	// Large graphs serialize to large frames; allow up to 4 MB per line.
	const maxFrame = 4 * 1024 * 1024
	scanner.Buffer(make([]byte, maxFrame), maxFrame)

	for {
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled, shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.logger.Printf("stdin scanner error: %v", err)
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Println("stdin closed, shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			// HandleRequest encodes protocol errors into the response
			// itself; an error here means even that failed, so synthesize
			// a frame to keep the stream correlated.
			t.logger.Printf("handler error: %v", err)
			resp = t.internalErrorResponse(line, err)
		}

		// Notifications carry no id and must not get a response frame.
		if isNotification(line) {
			continue
		}

		if err := t.writeResponse(resp); err != nil {
			t.logger.Printf("write error: %v", err)
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// writeResponse writes one newline-terminated JSON-RPC response frame.
func (t *StdioTransport) writeResponse(resp []byte) error {
	_, err := fmt.Fprintf(t.out, "%s\n", resp)
	return err
}

// isNotification reports whether the raw request omits the JSON-RPC id,
// which marks it as a notification.
func isNotification(rawRequest []byte) bool {
	var partial struct {
		ID *json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(rawRequest, &partial); err != nil {
		return false
	}
	return partial.ID == nil
}

// internalErrorResponse builds a best-effort error frame when HandleRequest
// itself fails, recovering the request ID from the raw bytes where possible.
func (t *StdioTransport) internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error: &JSONRPCError{
			Code:    ErrCodeInternalError,
			Message: handlerErr.Error(),
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
