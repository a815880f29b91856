// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server configuration, defaults and YAML loading.

package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-srv/api"
	"github.com/momentics/hioload-srv/log"
	"github.com/momentics/hioload-srv/transport/tcp"
)

// Scheduling modes.
const (
	ModeSerial     = "serial"
	ModeConcurrent = "concurrent"
)

// ListenerConfig describes one endpoint bound by Start.
type ListenerConfig struct {
	// Network is "tcp" or "udp".
	Network string `yaml:"network"`
	Addr    string `yaml:"addr"`

	// NoDelay and ReusePort apply to tcp only.
	NoDelay   bool `yaml:"no_delay"`
	ReusePort bool `yaml:"reuse_port"`

	// SocketReceiveBuffer and SocketSendBuffer set SO_RCVBUF and SO_SNDBUF
	// on accepted tcp connections. Zero keeps the OS default.
	SocketReceiveBuffer int `yaml:"so_rcvbuf"`
	SocketSendBuffer    int `yaml:"so_sndbuf"`
}

// Config holds all server-side configuration parameters.
// Fields marked "hot" take effect through Server.UpdateConfig.
type Config struct {
	Name      string           `yaml:"name"`
	Listeners []ListenerConfig `yaml:"listeners"`

	ReceiveBufferSize   int `yaml:"receive_buffer_size"`
	MaxRequestLength    int `yaml:"max_request_length"`
	SendingQueueSize    int `yaml:"sending_queue_size"`
	MaxConnectionNumber int `yaml:"max_connection_number"` // hot

	SendTimeout              time.Duration `yaml:"send_timeout"`         // hot
	HandlingTimeout          time.Duration `yaml:"handling_timeout"`     // hot, 0 disables
	IdleSessionTimeout       time.Duration `yaml:"idle_session_timeout"` // hot
	ClearIdleSessionInterval time.Duration `yaml:"clear_idle_session_interval"`
	NegotiationTimeout       time.Duration `yaml:"negotiation_timeout"`

	// MaxPendingNegotiations bounds handshakes running at once.
	MaxPendingNegotiations int `yaml:"max_pending_negotiations"`

	// Mode selects the built-in scheduler: serial or concurrent.
	Mode          string `yaml:"mode"`
	Workers       int    `yaml:"workers"`
	WorkerBacklog int    `yaml:"worker_backlog"`

	Log log.Config `yaml:"log"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:                     "hioload",
		ReceiveBufferSize:        4096,
		MaxRequestLength:         1024,
		SendingQueueSize:         5,
		MaxConnectionNumber:      100,
		SendTimeout:              5 * time.Second,
		IdleSessionTimeout:       300 * time.Second,
		ClearIdleSessionInterval: 120 * time.Second,
		NegotiationTimeout:       10 * time.Second,
		MaxPendingNegotiations:   64,
		Mode:                     ModeSerial,
		Workers:                  8,
		Log: log.Config{
			Level:   log.LevelInfo,
			Console: true,
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ReceiveBufferSize <= 0:
		return invalid("receive_buffer_size", c.ReceiveBufferSize)
	case c.MaxRequestLength <= 0:
		return invalid("max_request_length", c.MaxRequestLength)
	case c.SendingQueueSize <= 0:
		return invalid("sending_queue_size", c.SendingQueueSize)
	case c.MaxConnectionNumber <= 0:
		return invalid("max_connection_number", c.MaxConnectionNumber)
	case c.Mode != ModeSerial && c.Mode != ModeConcurrent:
		return invalid("mode", c.Mode)
	case c.Mode == ModeConcurrent && c.Workers <= 0:
		return invalid("workers", c.Workers)
	}
	for i, l := range c.Listeners {
		if l.Network != "tcp" && l.Network != "udp" {
			return invalid(fmt.Sprintf("listeners[%d].network", i), l.Network)
		}
		if l.SocketReceiveBuffer < 0 {
			return invalid(fmt.Sprintf("listeners[%d].so_rcvbuf", i), l.SocketReceiveBuffer)
		}
		if l.SocketSendBuffer < 0 {
			return invalid(fmt.Sprintf("listeners[%d].so_sndbuf", i), l.SocketSendBuffer)
		}
	}
	return nil
}

func (l ListenerConfig) tcpConfig() tcp.Config {
	cfg := tcp.DefaultConfig()
	cfg.NoDelay = l.NoDelay
	cfg.ReusePort = l.ReusePort
	cfg.ReceiveBufferSize = l.SocketReceiveBuffer
	cfg.SendBufferSize = l.SocketSendBuffer
	return cfg
}

func invalid(field string, value any) error {
	return api.WrapError(api.ErrCodeInvalidArgument, "invalid configuration value", api.ErrInvalidArgument).
		WithContext("field", field).
		WithContext("value", value)
}
