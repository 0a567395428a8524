package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

const dialTimeout = 10 * time.Second

// Client sends operations to a coordinator.
type Client struct {
	address string
}

// NewClient returns a client for the coordinator at address (host:port).
func NewClient(address string) *Client {
	return &Client{address: address}
}

// Send delivers op and blocks until the full response arrives or ctx
// ends. The ctx deadline is forwarded so the coordinator stops waiting
// for parts at the same time. Send does not interpret the parts; use
// Summarize for the first-error/first-success result.
func (c *Client) Send(ctx context.Context, op Operation) (*Response, error) {
	request, err := NewRequest(op)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{}
		}
		request.TimeoutMillis = remaining.Milliseconds()
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("connecting to coordinator at %s: %w", c.address, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := newEncoder(conn).Encode(request); err != nil {
		return nil, c.transportError(ctx, "writing request", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.CloseWrite()
	}

	var response Response
	if err := newDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, c.transportError(ctx, "reading response", err)
	}

	if response.Error != "" {
		return &response, &ProtocolError{Reason: response.Error}
	}
	if response.RequestID != request.ID {
		return &response, &ProtocolError{
			Reason: fmt.Sprintf("response for request %q, expected %q", response.RequestID, request.ID),
		}
	}
	return &response, nil
}

func (c *Client) transportError(ctx context.Context, action string, err error) error {
	if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) {
		return &TimeoutError{}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ProtocolError{Reason: fmt.Sprintf("%s: connection closed by coordinator", action)}
	}
	return fmt.Errorf("%s: %w", action, err)
}
