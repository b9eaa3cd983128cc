package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/store/lstore"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/server"
	"github.com/ValentinKolb/dGrid/rpc/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the cache server",
		Long:    `Start the cache server with the specified configuration. The configuration can be set via command line flags, environment variables or a config file. The format of the environment variables is DGRID_<flag> (e.g. DGRID_MAX_CONNECTIONS=100)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	defaults := common.DefaultServerConfig()

	key := "endpoint"
	ServeCmd.Flags().String(key, defaults.Endpoint, cmdUtil.WrapString("The address on which the server will listen (e.g. 0.0.0.0:40404 for tcp, /tmp/dgrid.sock for unix)"))

	key = "regions"
	ServeCmd.Flags().String(key, "default", cmdUtil.WrapString("Comma-separated list of regions created on startup"))

	key = "max-connections"
	ServeCmd.Flags().Int(key, defaults.MaxConnections, cmdUtil.WrapString("Maximum number of client connections, further connections are refused"))

	key = "max-threads"
	ServeCmd.Flags().Int(key, defaults.MaxThreads, cmdUtil.WrapString("Maximum number of connections served at the same time (0 = max-connections)"))

	key = "max-part-length"
	ServeCmd.Flags().Int(key, defaults.MaxPartLength, cmdUtil.WrapString("Maximum length of a single message part in bytes"))

	key = "max-parts"
	ServeCmd.Flags().Int(key, defaults.MaxParts, cmdUtil.WrapString("Maximum number of parts of a message"))

	key = "handshake-timeout"
	ServeCmd.Flags().Duration(key, defaults.HandshakeTimeout, cmdUtil.WrapString("Time a new connection has to complete the handshake"))

	key = "idle-timeout"
	ServeCmd.Flags().Duration(key, defaults.IdleTimeout, cmdUtil.WrapString("Maximum time between two requests of a client"))

	key = "timeout"
	ServeCmd.Flags().Duration(key, defaults.WriteTimeout, cmdUtil.WrapString("Time allowed for writing a reply"))

	key = "socket-buffer-size"
	ServeCmd.Flags().Int(key, defaults.SocketBufferSize, cmdUtil.WrapString("Socket read and write buffer size in bytes (tcp only)"))

	key = "tcp-nodelay"
	ServeCmd.Flags().Bool(key, defaults.TCPNoDelay, cmdUtil.WrapString("Whether to enable TCP_NODELAY (tcp only)"))

	key = "tcp-keepalive"
	ServeCmd.Flags().Duration(key, defaults.TCPKeepAlive, cmdUtil.WrapString("TCP keep-alive period, 0 disables keep-alive (tcp only)"))

	key = "metrics-endpoint"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Address on which /metrics is served in prometheus format (e.g. localhost:9404), empty disables it"))

	key = "log-level"
	ServeCmd.Flags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport = viper.GetString("transport")
	serveCmdConfig.MaxConnections = viper.GetInt("max-connections")
	serveCmdConfig.MaxThreads = viper.GetInt("max-threads")
	serveCmdConfig.MaxPartLength = viper.GetInt("max-part-length")
	serveCmdConfig.MaxParts = viper.GetInt("max-parts")
	serveCmdConfig.HandshakeTimeout = viper.GetDuration("handshake-timeout")
	serveCmdConfig.IdleTimeout = viper.GetDuration("idle-timeout")
	serveCmdConfig.WriteTimeout = viper.GetDuration("timeout")
	serveCmdConfig.SocketBufferSize = viper.GetInt("socket-buffer-size")
	serveCmdConfig.TCPNoDelay = viper.GetBool("tcp-nodelay")
	serveCmdConfig.TCPKeepAlive = viper.GetDuration("tcp-keepalive")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	// parse regions
	serveCmdConfig.Regions = nil
	for _, region := range strings.Split(viper.GetString("regions"), ",") {
		if region = strings.TrimSpace(region); region != "" {
			serveCmdConfig.Regions = append(serveCmdConfig.Regions, region)
		}
	}

	return serveCmdConfig.Validate()
}

// run starts the cache server and blocks until it receives SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(serveCmdConfig.LogLevel)

	// create the store with the configured regions
	cache := lstore.NewCache()
	for _, name := range serveCmdConfig.Regions {
		if _, err := cache.CreateRegion(name); err != nil {
			return fmt.Errorf("failed to create region %q: %w", name, err)
		}
	}

	sink := telemetry.NewSink()
	defer sink.Close()

	t, err := cmdUtil.GetServerTransport(sink)
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(serveCmdConfig, t, cache, server.WithMetrics(sink))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serv.Serve(ctx)
}
