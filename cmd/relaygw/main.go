package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/relaygw/internal/api"
	"github.com/mattjoyce/relaygw/internal/auth"
	"github.com/mattjoyce/relaygw/internal/broker"
	"github.com/mattjoyce/relaygw/internal/config"
	"github.com/mattjoyce/relaygw/internal/doctor"
	"github.com/mattjoyce/relaygw/internal/events"
	"github.com/mattjoyce/relaygw/internal/journal"
	"github.com/mattjoyce/relaygw/internal/lock"
	"github.com/mattjoyce/relaygw/internal/log"
	"github.com/mattjoyce/relaygw/internal/storage"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const journalPruneInterval = time.Hour

// shutdownGrace caps the wait for the API server, whose own Shutdown gives
// in-flight requests 5s.
const shutdownGrace = 10 * time.Second

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- CLIENTS ---
	case "worker":
		if hasHelpFlag(args) {
			printWorkerHelp()
			return 0
		}
		return runWorker(args)
	case "query":
		if hasHelpFlag(args) {
			printQueryHelp()
			return 0
		}
		return runQuery(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: relaygw version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("relaygw %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, resolvedBuildTime); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`relaygw - HTTP relay between API callers and polling browser workers

Usage:
  relaygw <noun> <action> [flags]

System Commands:
  system start      Start the relay broker in the foreground
  system status     Show health of a running broker
  system watch      Real-time monitoring TUI

Config Commands:
  config check      Validate syntax, settings, and integrity
  config lock       Record integrity hashes for the config file
  config token      Generate a scoped admin token

Clients:
  worker            Run a polling worker (echo handler) against a broker
  query             Send one query and print the answer

General:
  start             Alias for 'system start'
  watch             Alias for 'system watch'
  version           Show version information
  help              Show this help message

Use 'relaygw <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "token":
		if hasHelpFlag(actionArgs) {
			printConfigTokenHelp()
			return 0
		}
		return runConfigToken(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: relaygw system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: relaygw config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, token")
}

func printSystemStartHelp() {
	fmt.Println("Usage: relaygw system start [--config PATH]")
	fmt.Println("Start the relay broker in the foreground.")
	fmt.Println("Without --config the first of $RELAYGW_CONFIG_DIR, ~/.config/relaygw,")
	fmt.Println("/etc/relaygw, ./config.yaml is used; with none present, built-in defaults apply.")
}

// --- START ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	source := cfg.SourcePath
	if source == "" {
		source = "built-in defaults"
	}
	logger.Info("relaygw starting", "version", version, "config", source)

	for _, w := range doctor.New(cfg).Validate().Warnings {
		logger.Warn("config warning", "category", w.Category, "field", w.Field, "message", w.Message)
	}

	pidLockPath := lock.PathFor(filepath.Dir(cfg.Journal.Path))
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Typed nils would defeat the broker's and API's nil checks.
	var recorder broker.Recorder
	var history api.History
	var jr *journal.Journal
	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal database", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()
		jr = journal.New(db)
		recorder, history = jr, jr
		logger.Info("journal opened", "path", cfg.Journal.Path, "retention", cfg.Journal.Retention.String())
	}

	hub := events.NewHub(cfg.Broker.EventBuffer)
	b := broker.New(broker.Options{
		LivenessThreshold: cfg.Broker.LivenessThreshold,
		QueryTimeout:      cfg.Broker.QueryTimeout,
		ResultTTL:         cfg.Broker.ResultTTL,
		SweepInterval:     cfg.Broker.SweepInterval,
		MaxQueueDepth:     cfg.Broker.MaxQueueDepth,
		Events:            hub,
		Recorder:          recorder,
		Logger:            log.WithComponent("broker"),
	})

	apiServer := api.New(api.Config{
		Listen:             cfg.API.Listen,
		APIKey:             cfg.API.Auth.APIKey,
		Tokens:             authTokens(cfg.API.Auth.Tokens),
		AllowedOrigins:     cfg.API.CORS.AllowedOrigins,
		QueryRatePerMinute: cfg.API.QueryRatePerMinute,
		QueryTimeout:       b.QueryTimeout(),
	}, b, history, hub, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)

	go func() {
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("broker: %w", err)
		}
	}()

	apiDone := make(chan struct{})
	go func() {
		defer close(apiDone)
		if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	if jr != nil {
		go func() {
			if err := jr.RunPruner(ctx, cfg.Journal.Retention, journalPruneInterval); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("journal: %w", err)
			}
		}()
	}

	logger.Info("relaygw running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}

	if !stopComponents(cancel, apiDone, b.Drain, shutdownGrace) {
		logger.Warn("API server did not stop in time", "grace", shutdownGrace.String())
	}
	logger.Info("relaygw stopped")
	return code
}

// stopComponents cancels the run context, waits for the API server to finish
// its graceful shutdown, then drains pending journal writes. It reports false
// when the server outlived grace; drain still runs so no write is lost.
func stopComponents(cancel context.CancelFunc, apiDone <-chan struct{}, drain func(), grace time.Duration) bool {
	cancel()
	stopped := true
	select {
	case <-apiDone:
	case <-time.After(grace):
		stopped = false
	}
	drain()
	return stopped
}

func authTokens(in []config.APIToken) []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(in))
	for _, t := range in {
		out = append(out, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return out
}
