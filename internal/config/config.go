package config

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	RecorderNone     = "none"
	RecorderPostgres = "postgres"
	RecorderSQLite   = "sqlite"
)

const (
	DuplicateReplace = "replace"
	DuplicateReject  = "reject"
)

// DefaultICEServers are handed to clients when no ICE servers are configured.
const DefaultICEServers = `[{"urls":["stun:stun.l.google.com:19302"]},{"urls":["stun:stun1.l.google.com:19302"]}]`

type Options struct {
	ServerAddr     string
	SigningKey     string
	AllowedOrigins []string
	Recorder       string
	DatabaseDSN    string
	RedisAddr      string
	ICEServers     string
	MaxConnections int
	DuplicateLogin string
}

type Config struct {
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	Recorder       string
	DatabaseDSN    string
	RedisAddr      string
	ICEServers     []webrtc.ICEServer
	MaxConnections int
	DuplicateLogin string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}

	return key, nil
}

func NewConfig(opts Options) (*Config, error) {
	if opts.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if opts.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(opts.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	recorder := strings.ToLower(strings.TrimSpace(opts.Recorder))
	switch recorder {
	case "":
		recorder = RecorderNone
	case RecorderNone:
	case RecorderPostgres, RecorderSQLite:
		if opts.DatabaseDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty for %s recorder", recorder)
		}
	default:
		return nil, fmt.Errorf("unsupported recorder %q", opts.Recorder)
	}

	duplicate := strings.ToLower(strings.TrimSpace(opts.DuplicateLogin))
	switch duplicate {
	case "":
		duplicate = DuplicateReplace
	case DuplicateReplace, DuplicateReject:
	default:
		return nil, fmt.Errorf("unsupported duplicate login policy %q", opts.DuplicateLogin)
	}

	if opts.MaxConnections < 0 {
		return nil, fmt.Errorf("max connections cannot be negative")
	}

	rawICE := strings.TrimSpace(opts.ICEServers)
	if rawICE == "" {
		rawICE = DefaultICEServers
	}
	iceServers, err := ParseICEServersJSON(rawICE)
	if err != nil {
		return nil, fmt.Errorf("parse ice servers: %w", err)
	}

	return &Config{
		ServerAddr:     opts.ServerAddr,
		SigningKey:     signingKey,
		AllowedOrigins: opts.AllowedOrigins,
		Recorder:       recorder,
		DatabaseDSN:    opts.DatabaseDSN,
		RedisAddr:      strings.TrimSpace(opts.RedisAddr),
		ICEServers:     iceServers,
		MaxConnections: opts.MaxConnections,
		DuplicateLogin: duplicate,
	}, nil
}
