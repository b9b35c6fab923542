package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/rtccall/config"
	"github.com/opd-ai/rtccall/factory"
	"github.com/opd-ai/rtccall/screen"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// cliOptions holds flags that do not map to configuration fields.
type cliOptions struct {
	help bool
}

// parseCLIFlags applies command-line overrides on top of cfg.
func parseCLIFlags(args []string, cfg config.Config, output io.Writer) (config.Config, cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("callscreen", flag.ContinueOnError)
	fs.SetOutput(output)

	// Credentials
	fs.StringVar(&cfg.ApplicationID, "app-id", cfg.ApplicationID, "Engine application id")
	fs.StringVar(&cfg.AccessToken, "token", cfg.AccessToken, "Channel access token")
	fs.StringVar(&cfg.ChannelName, "channel", cfg.ChannelName, "Channel name")
	fs.BoolVar(&cfg.Editable, "editable", cfg.Editable, "Allow credentials to be edited on the screen")

	// Server and logging
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")

	// Session
	fs.DurationVar(&cfg.JoinTimeout, "join-timeout", cfg.JoinTimeout, "Abandon unconfirmed joins after this long (0 disables)")
	fs.IntVar(&cfg.MailboxSize, "mailbox-size", cfg.MailboxSize, "Engine event queue size")
	fs.BoolVar(&cfg.SingleRemoteSlot, "single-remote", cfg.SingleRemoteSlot, "Track only the latest remote participant")

	// Engine
	fs.StringVar(&cfg.Engine, "engine", cfg.Engine, "Engine implementation")
	fs.BoolVar(&cfg.AutoConfirm, "auto-confirm", cfg.AutoConfirm, "Simulated engine confirms join and leave requests")

	fs.BoolVar(&opts.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}
	return cfg, opts, nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Call screen")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s [options]\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every option can also be set with a CALLSCREEN_* environment variable.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s -channel room1 -listen :9000\n", os.Args[0])
	fmt.Fprintf(w, "  %s -editable=false -channel room1 -join-timeout 30s\n", os.Args[0])
}

// setupSignalHandling cancels ctx on interrupt or termination.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithFields(logrus.Fields{
			"function": "setupSignalHandling",
			"signal":   sig.String(),
		}).Info("Received signal, shutting down")
		cancel()
	}()
}

// run builds the session, serves the screen until ctx is done and then
// releases the engine.
func run(ctx context.Context, cfg config.Config) error {
	f, err := factory.NewSessionFactory(cfg)
	if err != nil {
		return err
	}

	sess, err := f.CreateSession()
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Controller.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"error":    err.Error(),
			}).Error("Failed to release call session")
		}
	}()

	if err := sess.Controller.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}

	opts := screen.Options{Editable: cfg.Editable}
	if sess.Simulator != nil {
		opts.Simulator = sess.Simulator
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           screen.NewHandler(sess.Controller, opts).NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"addr":     cfg.ListenAddr,
		}).Info("Serving call screen")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	cfg, opts, err := parseCLIFlags(os.Args[1:], cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(2)
	}
	if opts.help {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	if err := config.ConfigureLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	if err := run(ctx, cfg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Call screen stopped with error")
		cancel()
		os.Exit(1)
	}
}
