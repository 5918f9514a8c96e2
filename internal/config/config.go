// Package config loads the relay's configuration from environment variables
// with a small set of flag overrides, validating every value up front so
// misconfigurations fail at startup rather than at first use.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "SIGNALING_RELAY_LISTEN_ADDR"
	envVarLogFormat       = "SIGNALING_RELAY_LOG_FORMAT"
	envVarLogLevel        = "SIGNALING_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "SIGNALING_RELAY_SHUTDOWN_TIMEOUT"

	envVarAllowedOrigins = "ALLOWED_ORIGINS"

	// WebSocket signaling hardening.
	envVarMaxMessageBytes   = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxMessagesPerSec = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueSize     = "SIGNALING_SEND_QUEUE_SIZE"
	envVarWSIdleTimeout     = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarWSPingInterval    = "SIGNALING_WS_PING_INTERVAL"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 64
	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultLogFormat            = LogFormatText
	DefaultLogLevel             = slog.LevelInfo
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration

	LogFormat LogFormat
	LogLevel  slog.Level

	// AllowedOrigins widens the browser Origin policy. Empty means same-host
	// only; "*" allows everything.
	AllowedOrigins []string

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int
	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration

	// ICEServers is the STUN/TURN list served to clients at /webrtc/ice.
	ICEServers []webrtc.ICEServer
}

// Load builds the configuration from the environment, then applies flag
// overrides from args.
func Load(args []string) (Config, error) {
	cfg := Config{
		ListenAddr:      DefaultListenAddr,
		ShutdownTimeout: DefaultShutdownTimeout,

		LogFormat: DefaultLogFormat,
		LogLevel:  DefaultLogLevel,

		MaxMessageBytes:      DefaultMaxMessageBytes,
		MaxMessagesPerSecond: DefaultMaxMessagesPerSecond,
		SendQueueSize:        DefaultSendQueueSize,
		WSIdleTimeout:        DefaultWSIdleTimeout,
		WSPingInterval:       DefaultWSPingInterval,
	}

	if v := os.Getenv(envVarListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envVarLogFormat); v != "" {
		format, err := parseLogFormat(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarLogFormat, err)
		}
		cfg.LogFormat = format
	}
	if v := os.Getenv(envVarLogLevel); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarLogLevel, err)
		}
		cfg.LogLevel = level
	}
	if v := os.Getenv(envVarShutdownTimeout); v != "" {
		d, err := parsePositiveDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarShutdownTimeout, err)
		}
		cfg.ShutdownTimeout = d
	}

	cfg.AllowedOrigins = splitCommaSeparated(os.Getenv(envVarAllowedOrigins))

	if v := os.Getenv(envVarMaxMessageBytes); v != "" {
		n, err := parsePositiveInt64(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarMaxMessageBytes, err)
		}
		cfg.MaxMessageBytes = n
	}
	if v := os.Getenv(envVarMaxMessagesPerSec); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarMaxMessagesPerSec, err)
		}
		cfg.MaxMessagesPerSecond = n
	}
	if v := os.Getenv(envVarSendQueueSize); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarSendQueueSize, err)
		}
		cfg.SendQueueSize = n
	}
	if v := os.Getenv(envVarWSIdleTimeout); v != "" {
		d, err := parsePositiveDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarWSIdleTimeout, err)
		}
		cfg.WSIdleTimeout = d
	}
	if v := os.Getenv(envVarWSPingInterval); v != "" {
		d, err := parsePositiveDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarWSPingInterval, err)
		}
		cfg.WSPingInterval = d
	}

	iceServers, err := parseICEServersFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.ICEServers = iceServers

	fs := flag.NewFlagSet("signaling-relay", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", cfg.ListenAddr, "TCP listen address (overrides "+envVarListenAddr+")")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.ListenAddr = *listenAddr

	if cfg.WSPingInterval >= cfg.WSIdleTimeout {
		return Config{}, fmt.Errorf("%s must be shorter than %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}

	return cfg, nil
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func parseLogFormat(v string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(v))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (want text or json)", v)
	}
}

func parseLogLevel(v string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", v)
	}
}

func parsePositiveDuration(v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

func parsePositiveInt(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

func parsePositiveInt64(v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

func splitCommaSeparated(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
