package factory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/rtccall/config"
	"github.com/opd-ai/rtccall/interfaces"
	"github.com/opd-ai/rtccall/session"
	"github.com/opd-ai/rtccall/simulation"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedEngine indicates no implementation exists for the configured
// engine kind.
var ErrUnsupportedEngine = errors.New("unsupported engine")

// Session bundles a controller with the collaborators it was built from.
type Session struct {
	Controller *session.Controller
	Engine     interfaces.Engine
	Authority  interfaces.PermissionAuthority

	// Simulator is the simulated engine, nil when a real engine is used.
	Simulator *simulation.SimulatedEngine
}

// Option customizes a single CreateSession call.
type Option func(*buildOptions)

type buildOptions struct {
	engine    interfaces.Engine
	authority interfaces.PermissionAuthority
}

// WithEngine uses engine instead of the configured engine kind.
func WithEngine(engine interfaces.Engine) Option {
	return func(o *buildOptions) {
		o.engine = engine
	}
}

// WithAuthority uses authority instead of the configured deny list.
func WithAuthority(authority interfaces.PermissionAuthority) Option {
	return func(o *buildOptions) {
		o.authority = authority
	}
}

// SessionFactory creates call sessions from configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type SessionFactory struct {
	mu     sync.RWMutex
	config config.Config
}

// NewSessionFactory validates cfg and returns a factory using it.
func NewSessionFactory(cfg config.Config) (*SessionFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logConfigurationInfo(cfg)

	return &SessionFactory{config: cfg}, nil
}

// logConfigurationInfo logs the settings sessions will be built with.
func logConfigurationInfo(cfg config.Config) {
	logrus.WithFields(logrus.Fields{
		"function":           "NewSessionFactory",
		"engine":             cfg.Engine,
		"auto_confirm":       cfg.AutoConfirm,
		"join_timeout":       cfg.JoinTimeout,
		"mailbox_size":       cfg.MailboxSize,
		"single_remote_slot": cfg.SingleRemoteSlot,
		"denied":             cfg.DeniedCapabilities,
	}).Info("Created session factory with configuration")
}

// CreateSession builds the engine, the permission authority and a controller
// that owns the engine.
func (f *SessionFactory) CreateSession(opts ...Option) (*Session, error) {
	f.mu.RLock()
	cfg := f.config
	f.mu.RUnlock()

	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	sess := &Session{Engine: o.engine, Authority: o.authority}

	if sess.Engine == nil {
		engine, err := createEngine(cfg)
		if err != nil {
			return nil, err
		}
		sess.Engine = engine
		sess.Simulator = engine
	} else if sim, ok := sess.Engine.(*simulation.SimulatedEngine); ok {
		sess.Simulator = sim
	}

	if sess.Authority == nil {
		sess.Authority = simulation.NewStaticAuthority(cfg.Denied()...)
	}

	ctrl, err := session.NewController(sess.Engine, cfg.SessionConfig(),
		session.WithPermissionAuthority(sess.Authority))
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}
	sess.Controller = ctrl

	logrus.WithFields(logrus.Fields{
		"function":  "CreateSession",
		"simulated": sess.Simulator != nil,
		"channel":   cfg.ChannelName,
	}).Info("Call session created")

	return sess, nil
}

func createEngine(cfg config.Config) (*simulation.SimulatedEngine, error) {
	switch cfg.Engine {
	case config.EngineSimulated:
		logrus.WithFields(logrus.Fields{
			"function": "CreateSession",
			"type":     "simulation",
		}).Info("Creating simulated engine")

		return simulation.NewSimulatedEngine(simulation.EngineConfig{
			AutoConfirm: cfg.AutoConfirm,
			LocalUID:    interfaces.ParticipantID(cfg.SimLocalUID),
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEngine, cfg.Engine)
	}
}

// GetCurrentConfig returns a copy of the current configuration.
func (f *SessionFactory) GetCurrentConfig() config.Config {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cfg := f.config
	cfg.DeniedCapabilities = append([]string(nil), f.config.DeniedCapabilities...)
	return cfg
}

// UpdateConfig replaces the configuration used by later CreateSession calls.
// Sessions already created are unaffected.
func (f *SessionFactory) UpdateConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "UpdateConfig",
		"old_channel": f.config.ChannelName,
		"new_channel": cfg.ChannelName,
		"old_timeout": f.config.JoinTimeout,
		"new_timeout": cfg.JoinTimeout,
	}).Info("Updating factory configuration")

	f.config = cfg
	return nil
}
