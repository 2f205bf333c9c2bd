package util

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	bolt "github.com/mindstand/go-bolt-connector"
	"github.com/mindstand/go-bolt-connector/log"
	"github.com/mindstand/go-bolt-connector/structures"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupConnectorFlags adds the connection flags to a flag set. Every flag can
// also be set through the environment, e.g. --pool-size as BOLT_POOL_SIZE.
func SetupConnectorFlags(flags *pflag.FlagSet) {
	key := "host"
	flags.String(key, "localhost", WrapString("Host name of the server"))

	key = "port"
	flags.Int(key, bolt.DefaultPort, WrapString("Bolt port of the server"))

	key = "user"
	flags.String(key, "neo4j", WrapString("User to authenticate as"))

	key = "password"
	flags.String(key, "", WrapString("Password of the user. Without one no authentication is attempted"))

	key = "secure"
	flags.Bool(key, false, WrapString("Connect over TLS"))

	key = "insecure"
	flags.Bool(key, false, WrapString("Accept any server certificate when connecting over TLS"))

	key = "access-mode"
	flags.String(key, "WRITE", WrapString("Access mode to acquire connections with (READ or WRITE)"))

	key = "pool-size"
	flags.Int(key, 1, WrapString("Maximum number of connections"))

	key = "connect-timeout"
	flags.Duration(key, bolt.DefaultConnectTimeout, WrapString("Timeout for connecting and authenticating"))

	key = "socket-timeout"
	flags.Duration(key, 0, WrapString("Timeout for each read and write, 0 waits forever"))

	key = "log-level"
	flags.String(key, "none", WrapString("Log level of the connector (none, error, warn, info, trace)"))
}

// InitConfig loads .env files and sets up environment lookups
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("bolt")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds the flags of cmd to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupLogging applies the configured log level
func SetupLogging() {
	log.SetOutput(os.Stderr)
	log.SetLevel(viper.GetString("log-level"))
}

// GetConnectorConfig reads the connector configuration from viper
func GetConnectorConfig() (bolt.Config, error) {
	port := viper.GetInt("port")
	if port <= 0 || port > 65535 {
		return bolt.Config{}, fmt.Errorf("invalid port %d", port)
	}

	cfg := bolt.Config{
		Address:        net.JoinHostPort(viper.GetString("host"), strconv.Itoa(port)),
		MaxPoolSize:    viper.GetInt("pool-size"),
		ConnectTimeout: viper.GetDuration("connect-timeout"),
		SocketTimeout:  viper.GetDuration("socket-timeout"),
	}
	if password := viper.GetString("password"); password != "" {
		cfg.Auth = bolt.BasicAuth(viper.GetString("user"), password, "")
	} else {
		cfg.Auth = bolt.NoAuth()
	}
	if viper.GetBool("secure") {
		cfg.Transport = bolt.TransportSecure
		if viper.GetBool("insecure") {
			cfg.Trust = &bolt.Trust{SkipVerify: true}
		}
	}
	return cfg, cfg.Validate()
}

// GetAccessMode reads the configured access mode
func GetAccessMode() (bolt.AccessMode, error) {
	return bolt.ParseAccessMode(viper.GetString("access-mode"))
}

// FormatValue renders a value received in a record for terminal output
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + FormatValue(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case structures.Generic:
		return fmt.Sprintf("#%02X%s", val.Tag, FormatValue(val.Fields))
	default:
		return fmt.Sprint(val)
	}
}

// FormatRow joins values with tabs
func FormatRow(values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = FormatValue(v)
	}
	return strings.Join(parts, "\t")
}
