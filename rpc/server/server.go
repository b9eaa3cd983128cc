package server

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/telemetry"
	"github.com/ValentinKolb/dGrid/rpc/transport"
)

// RPCServer ties a transport, a store and a command registry together
type RPCServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	cache     store.ICache
	registry  *Registry
	sink      *telemetry.Sink
}

// Option configures an RPCServer
type Option func(*RPCServer)

// WithRegistry replaces the default registry
func WithRegistry(r *Registry) Option {
	return func(s *RPCServer) { s.registry = r }
}

// WithMetrics exposes sink on the metrics endpoint of the configuration
func WithMetrics(sink *telemetry.Sink) Option {
	return func(s *RPCServer) { s.sink = sink }
}

// NewRPCServer creates a new RPC server
//
// Usage:
//
//	sink := telemetry.NewSink()
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(sink),
//		lstore.NewCache(),
//		server.WithMetrics(sink),
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	cache store.ICache,
	opts ...Option,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &RPCServer{
		config:    config,
		transport: transport,
		cache:     cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = DefaultRegistry()
	}
	return s
}

// Listen binds the transport. After Listen returned, Addr reports the bound address.
func (s *RPCServer) Listen() error {
	s.transport.Register(s.cache, s.registry)
	if err := s.transport.Listen(s.config); err != nil {
		return err
	}
	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", s.config.String())
	return nil
}

// Serve accepts connections until ctx is cancelled. Listen is called first if needed.
func (s *RPCServer) Serve(ctx context.Context) error {
	if s.transport.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	if s.sink != nil && s.config.MetricsEndpoint != "" {
		go func() {
			if err := s.sink.ServeMetrics(ctx, s.config.MetricsEndpoint); err != nil {
				Logger.Errorf("%v", err)
			}
		}()
	}

	if err := s.transport.Serve(ctx); err != nil {
		return fmt.Errorf("transport failed: %w", err)
	}
	Logger.Infof("RPC Server stopped")
	return nil
}

// Addr returns the address the transport listens on, nil before Listen
func (s *RPCServer) Addr() string {
	if addr := s.transport.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// LiveConnections returns the number of open client connections
func (s *RPCServer) LiveConnections() int {
	return s.transport.LiveConnections()
}
