package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler executes one operation and returns its parts. The context
// carries the request deadline.
type Handler interface {
	Handle(ctx context.Context, op Operation) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, op Operation) *Response

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, op Operation) *Response {
	return f(ctx, op)
}

const (
	// readTimeout bounds how long a client may take to send its request.
	readTimeout = 30 * time.Second

	writeTimeout = 10 * time.Second

	// maxRequestSize caps a single request; test suites and worker
	// configs are the largest payloads.
	maxRequestSize = 4 * 1024 * 1024

	maxResponseSize = 16 * 1024 * 1024
)

// Server serves the CBOR request/response protocol on TCP. Each
// connection carries exactly one request and one response.
type Server struct {
	address        string
	handler        Handler
	logger         *zap.Logger
	defaultTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener

	active sync.WaitGroup
}

// NewServer creates a server for address (host:port). Requests without a
// deadline of their own get defaultTimeout; zero means no deadline.
func NewServer(address string, handler Handler, defaultTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		address:        address,
		handler:        handler,
		logger:         logger,
		defaultTimeout: defaultTimeout,
	}
}

// Listen binds the listening socket. Serve calls it when needed; calling
// it first lets callers learn the bound address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then waits for the
// requests in flight to finish.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	listener := s.listener
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("coordinator listening", zap.String("address", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", zap.Error(err))
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var request Request
	if err := newDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeResponse(conn, &Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	logger := s.logger.With(zap.String("request", request.ID), zap.String("kind", string(request.Kind)))

	op, err := DecodeOperation(&request)
	if err != nil {
		logger.Warn("rejecting request", zap.Error(err))
		s.writeResponse(conn, &Response{RequestID: request.ID, Error: err.Error()})
		return
	}
	if err := op.Validate(); err != nil {
		logger.Warn("invalid operation", zap.Error(err))
		s.writeResponse(conn, &Response{RequestID: request.ID, Error: err.Error()})
		return
	}

	timeout := s.defaultTimeout
	if request.TimeoutMillis > 0 {
		timeout = time.Duration(request.TimeoutMillis) * time.Millisecond
	}
	handlerCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	response := s.handler.Handle(handlerCtx, op)
	if response == nil {
		response = &Response{}
	}
	response.RequestID = request.ID

	logger.Debug("operation handled",
		zap.Int("parts", len(response.Parts)),
		zap.Duration("elapsed", time.Since(started)),
	)
	s.writeResponse(conn, response)
}

func (s *Server) writeResponse(conn net.Conn, response *Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := newEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}
