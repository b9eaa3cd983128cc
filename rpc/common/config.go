package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultEndpoint         = "0.0.0.0:40404"
	DefaultTransport        = "tcp"
	DefaultMaxConnections   = 800
	DefaultMaxThreads       = 0 // = MaxConnections
	DefaultMaxPartLength    = 16 << 20
	DefaultMaxParts         = 64
	DefaultHandshakeTimeout = 59 * time.Second
	DefaultIdleTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
	DefaultSocketBufferSize = 32 << 10
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a cache server.
type ServerConfig struct {
	// Endpoint is host:port for tcp or the socket path for unix
	Endpoint string
	// Transport selects the socket connector (tcp, unix)
	Transport string

	// Regions are created on startup
	Regions []string

	// Admission and worker pool
	MaxConnections int
	MaxThreads     int

	// Framing limits
	MaxPartLength int
	MaxParts      int

	// Timeouts
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration

	// TCP socket options
	SocketBufferSize int
	TCPNoDelay       bool
	TCPKeepAlive     time.Duration

	// MetricsEndpoint exposes telemetry in prometheus format, empty = disabled
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a server configuration with all defaults applied
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Endpoint:         DefaultEndpoint,
		Transport:        DefaultTransport,
		MaxConnections:   DefaultMaxConnections,
		MaxThreads:       DefaultMaxThreads,
		MaxPartLength:    DefaultMaxPartLength,
		MaxParts:         DefaultMaxParts,
		HandshakeTimeout: DefaultHandshakeTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		SocketBufferSize: DefaultSocketBufferSize,
		TCPNoDelay:       true,
		LogLevel:         "info",
	}
}

// WorkerLimit returns the effective size of the worker pool
func (c *ServerConfig) WorkerLimit() int {
	if c.MaxThreads <= 0 {
		return c.MaxConnections
	}
	return c.MaxThreads
}

// Validate checks the configuration for values the server cannot run with
func (c *ServerConfig) Validate() error {
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("invalid config: endpoint must not be empty")
	case c.MaxConnections <= 0:
		return fmt.Errorf("invalid config: max connections must be positive, got %d", c.MaxConnections)
	case c.MaxThreads < 0:
		return fmt.Errorf("invalid config: max threads must not be negative, got %d", c.MaxThreads)
	case c.MaxPartLength <= 0:
		return fmt.Errorf("invalid config: max part length must be positive, got %d", c.MaxPartLength)
	case c.MaxParts <= 0:
		return fmt.Errorf("invalid config: max parts must be positive, got %d", c.MaxParts)
	case c.HandshakeTimeout <= 0 || c.IdleTimeout <= 0 || c.WriteTimeout <= 0:
		return fmt.Errorf("invalid config: timeouts must be positive")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("Cache Server")
	addField("Endpoint", c.Endpoint)
	addField("Transport", c.Transport)
	addField("Max Connections", strconv.Itoa(c.MaxConnections))
	addField("Max Threads", fmt.Sprintf("%d (effective %d)", c.MaxThreads, c.WorkerLimit()))

	addSection("Framing")
	addField("Max Part Length", fmt.Sprintf("%d bytes", c.MaxPartLength))
	addField("Max Parts", strconv.Itoa(c.MaxParts))

	addSection("Timeouts")
	addField("Handshake", c.HandshakeTimeout.String())
	addField("Idle", c.IdleTimeout.String())
	addField("Write", c.WriteTimeout.String())

	if c.Transport == "tcp" {
		addSection("Socket")
		addField("Buffer Size", fmt.Sprintf("%d bytes", c.SocketBufferSize))
		addField("No Delay", strconv.FormatBool(c.TCPNoDelay))
		addField("Keep Alive", c.TCPKeepAlive.String())
	}

	// Regions
	addSection("Regions")
	for i, region := range c.Regions {
		addField(strconv.Itoa(i), region)
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	// Endpoints are tried in order until one accepts the handshake
	Endpoints     []string
	Transport     string
	TimeoutSecond int
	// RetryCount is the number of times a request is resent after an i/o failure
	RetryCount      int
	ClientID        string
	ProtocolVersion Version
	MaxPartLength   int
	MaxParts        int
}

// Timeout returns the per request timeout
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Client ID", c.ClientID)
	addField("Protocol Version", c.ProtocolVersion.String())
	addField("Transport", c.Transport)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
