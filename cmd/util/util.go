package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/telemetry"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/ValentinKolb/dGrid/rpc/transport/tcp"
	"github.com/ValentinKolb/dGrid/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (e.g. DGRID_ENDPOINT)
	EnvPrefix = "dgrid"
)

// ConfigFile is the optional configuration file set with --config
var ConfigFile string

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files, environment variables and the config file
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if ConfigFile != "" {
		viper.SetConfigFile(ConfigFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read config file %s: %v\n", ConfigFile, err)
			os.Exit(1)
		}
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, "localhost:40404", WrapString("The address of the cache server (host:port or socket path). Multiple endpoints can be specified as a comma-separated list, they are tried in order"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 2, WrapString("How many times a request is resent after a connection failure"))

	key = "client-id"
	cmd.PersistentFlags().String(key, "", WrapString("The identity sent in the handshake (default: host-pid-random)"))

	key = "protocol-version"
	cmd.PersistentFlags().Int(key, int(common.VersionCurrent), WrapString("The protocol version requested in the handshake"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "error", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		Endpoints:       strings.Split(viper.GetString("endpoints"), ","),
		Transport:       viper.GetString("transport"),
		TimeoutSecond:   viper.GetInt("timeout"),
		RetryCount:      viper.GetInt("retries"),
		ClientID:        viper.GetString("client-id"),
		ProtocolVersion: common.Version(viper.GetInt("protocol-version")),
	}
}

// GetClientTransport creates the client transport based on configuration
func GetClientTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// GetServerTransport creates the server transport based on configuration
func GetServerTransport(sink telemetry.ISink) (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(sink), nil
	case "unix":
		return unix.NewUnixServerTransport(sink), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}
