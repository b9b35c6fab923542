// Package config loads call screen settings from CALLSCREEN_* environment
// variables and configures process-wide logging.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/opd-ai/rtccall/interfaces"
	"github.com/opd-ai/rtccall/session"
	"github.com/sirupsen/logrus"
)

// Validation constants for configuration bounds checking.
const (
	// MinMailboxSize is the smallest engine event queue accepted.
	MinMailboxSize = 1
	// MaxMailboxSize is the largest engine event queue accepted.
	MaxMailboxSize = 4096
	// MaxJoinTimeout is the longest join timeout accepted (10 minutes).
	MaxJoinTimeout = 10 * time.Minute
)

// EngineSimulated selects the in-memory engine.
const EngineSimulated = "simulated"

// Log formats accepted by ConfigureLogging.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of the call screen process.
type Config struct {
	ApplicationID string `env:"CALLSCREEN_APP_ID"`
	AccessToken   string `env:"CALLSCREEN_TOKEN"`
	ChannelName   string `env:"CALLSCREEN_CHANNEL"`

	// Editable allows credentials to be changed through the screen. When
	// false they come only from configuration.
	Editable bool `env:"CALLSCREEN_EDITABLE" envDefault:"true"`

	ListenAddr string `env:"CALLSCREEN_LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"CALLSCREEN_LOG_LEVEL"   envDefault:"info"`
	LogFormat  string `env:"CALLSCREEN_LOG_FORMAT"  envDefault:"text"`

	JoinTimeout      time.Duration `env:"CALLSCREEN_JOIN_TIMEOUT"       envDefault:"0s"`
	MailboxSize      int           `env:"CALLSCREEN_MAILBOX_SIZE"       envDefault:"64"`
	SingleRemoteSlot bool          `env:"CALLSCREEN_SINGLE_REMOTE_SLOT"`

	Engine             string   `env:"CALLSCREEN_ENGINE"              envDefault:"simulated"`
	DeniedCapabilities []string `env:"CALLSCREEN_DENIED_CAPABILITIES" envSeparator:","`
	SimLocalUID        uint32   `env:"CALLSCREEN_SIM_LOCAL_UID"       envDefault:"1000"`
	AutoConfirm        bool     `env:"CALLSCREEN_AUTO_CONFIRM"        envDefault:"true"`
}

// Load parses the environment into a Config with defaults applied.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Load",
		"engine":       cfg.Engine,
		"channel":      cfg.ChannelName,
		"editable":     cfg.Editable,
		"listen_addr":  cfg.ListenAddr,
		"join_timeout": cfg.JoinTimeout,
		"mailbox_size": cfg.MailboxSize,
	}).Debug("Loaded configuration from environment")

	return cfg, nil
}

// Validate checks every field and returns all problems at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel))
	}
	if c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON {
		errs = append(errs, fmt.Errorf("%w: log format %q, want %q or %q", ErrInvalidConfig, c.LogFormat, LogFormatText, LogFormatJSON))
	}
	if c.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("%w: listen address is empty", ErrInvalidConfig))
	}
	if c.MailboxSize < MinMailboxSize || c.MailboxSize > MaxMailboxSize {
		errs = append(errs, fmt.Errorf("%w: mailbox size %d out of range [%d, %d]", ErrInvalidConfig, c.MailboxSize, MinMailboxSize, MaxMailboxSize))
	}
	if c.JoinTimeout < 0 || c.JoinTimeout > MaxJoinTimeout {
		errs = append(errs, fmt.Errorf("%w: join timeout %s out of range [0, %s]", ErrInvalidConfig, c.JoinTimeout, MaxJoinTimeout))
	}
	if c.Engine != EngineSimulated {
		errs = append(errs, fmt.Errorf("%w: unknown engine %q", ErrInvalidConfig, c.Engine))
	}
	for _, name := range c.DeniedCapabilities {
		if !knownCapability(interfaces.Capability(name)) {
			errs = append(errs, fmt.Errorf("%w: unknown capability %q", ErrInvalidConfig, name))
		}
	}
	if !c.Editable && c.ChannelName == "" {
		errs = append(errs, fmt.Errorf("%w: channel is required when credentials are not editable", ErrInvalidConfig))
	}

	return errors.Join(errs...)
}

func knownCapability(c interfaces.Capability) bool {
	for _, known := range interfaces.CallCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

// Credentials returns the configured call credentials.
func (c Config) Credentials() session.Credentials {
	return session.Credentials{
		ApplicationID: c.ApplicationID,
		AccessToken:   c.AccessToken,
		ChannelName:   c.ChannelName,
	}
}

// SessionConfig returns the controller settings.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Credentials:      c.Credentials(),
		MailboxSize:      c.MailboxSize,
		JoinTimeout:      c.JoinTimeout,
		SingleRemoteSlot: c.SingleRemoteSlot,
	}
}

// Denied returns the capabilities the simulated authority refuses.
func (c Config) Denied() []interfaces.Capability {
	denied := make([]interfaces.Capability, 0, len(c.DeniedCapabilities))
	for _, name := range c.DeniedCapabilities {
		denied = append(denied, interfaces.Capability(name))
	}
	return denied
}
