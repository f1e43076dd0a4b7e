package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/relaygw/internal/config"
	"github.com/mattjoyce/relaygw/internal/doctor"
	"github.com/mattjoyce/relaygw/internal/log"
	"github.com/mattjoyce/relaygw/internal/tui/tokenmgr"
	"github.com/mattjoyce/relaygw/internal/tui/watch"
	"github.com/mattjoyce/relaygw/internal/workerclient"
)

const (
	defaultServerURL = "http://localhost:3000"
	tokenEnvVar      = "RELAYGW_TOKEN"
)

// --- SYSTEM STATUS ---

func printSystemStatusHelp() {
	fmt.Println("Usage: relaygw system status [--server URL] [--json]")
	fmt.Println("Query /health on a running broker.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Broker reachable and healthy")
	fmt.Println("  1  Broker unreachable or unhealthy")
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	server := fs.String("server", defaultServerURL, "Broker base URL")
	jsonOut := fs.Bool("json", false, "Output raw JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(*server, "/") + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Broker unreachable: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var health struct {
		Status                string    `json:"status"`
		Uptime                float64   `json:"uptime"`
		ActiveWorkerCount     int       `json:"activeWorkerCount"`
		RegisteredWorkerCount int       `json:"registeredWorkerCount"`
		InFlightQueries       int       `json:"inFlightQueries"`
		OrphanedResults       int       `json:"orphanedResults"`
		Timestamp             time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid health response: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(health, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("status:            %s\n", health.Status)
		fmt.Printf("uptime:            %s\n", (time.Duration(health.Uptime) * time.Second).String())
		fmt.Printf("workers (live):    %d/%d\n", health.ActiveWorkerCount, health.RegisteredWorkerCount)
		fmt.Printf("in-flight queries: %d\n", health.InFlightQueries)
		fmt.Printf("orphaned results:  %d\n", health.OrphanedResults)
	}

	if resp.StatusCode != http.StatusOK || health.Status != "ok" {
		return 1
	}
	return 0
}

// --- CONFIG ---

func printConfigCheckHelp() {
	fmt.Println("Usage: relaygw config check [--config PATH] [--strict] [--format human|json]")
	fmt.Println("Validate syntax, settings, and integrity hashes.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Valid")
	fmt.Println("  1  Invalid")
	fmt.Println("  2  Valid with warnings (--strict only)")
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func printConfigLockHelp() {
	fmt.Println("Usage: relaygw config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Record the BLAKE3 hash of the config file in .checksums next to it.")
	fmt.Println("Once locked, start and check refuse a config whose hash no longer matches.")
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}

	report, err := config.Lock(configPath, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if verbose || verboseShort {
		fmt.Printf("Processing directory: %s\n", report.ConfigDir)
		for _, file := range report.Files {
			if file.Exists {
				fmt.Printf("  HASH %s: %s\n", file.Filename, file.Hash)
				continue
			}
			fmt.Printf("  SKIP %s: not found\n", file.Filename)
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed (not written): %s\n", report.ChecksumPath)
	} else {
		fmt.Printf("Successfully locked configuration: %s\n", report.ChecksumPath)
	}
	return 0
}

func printConfigTokenHelp() {
	fmt.Println("Usage: relaygw config token [--scopes a,b] [--format human|yaml]")
	fmt.Println("Generate a random admin bearer token and print the api.auth.tokens entry.")
	fmt.Println("Without --scopes an interactive picker is shown.")
	fmt.Println("")
	fmt.Println("Scopes: *, events:ro, workers:ro, workers:rw, history:ro")
}

func runConfigToken(args []string) int {
	var scopesArg, format string

	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.StringVar(&scopesArg, "scopes", "", "Comma-separated scopes")
	fs.StringVar(&format, "format", "human", "Output format (human, yaml)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var scopes []string
	if scopesArg != "" {
		scopes = splitScopes(scopesArg)
	} else {
		picked, err := tokenmgr.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		scopes = picked
	}
	if len(scopes) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no scopes selected")
		return 1
	}

	// Check scopes the same way config check does.
	probe := config.Defaults()
	probe.API.Auth.Tokens = []config.APIToken{{Token: "probe", Scopes: scopes}}
	if res := doctor.New(probe).Validate(); !res.Valid {
		fmt.Fprint(os.Stderr, doctor.FormatHuman(res))
		return 1
	}

	token, err := generateSecureToken(32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
		return 1
	}

	entry := []config.APIToken{{Token: "${" + tokenEnvVar + "}", Scopes: scopes}}
	snippet, err := yaml.Marshal(map[string]any{"tokens": entry})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render YAML: %v\n", err)
		return 1
	}

	if format == "yaml" {
		fmt.Print(string(snippet))
		return 0
	}
	fmt.Printf("Token key: %s\n\n", token)
	fmt.Printf("Set environment variable:\n  export %s=\"%s\"\n\n", tokenEnvVar, token)
	fmt.Printf("Add under api.auth in config.yaml:\n%s", indent(string(snippet), "  "))
	return 0
}

func splitScopes(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func generateSecureToken(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// --- CLIENTS ---

func printWorkerHelp() {
	fmt.Println("Usage: relaygw worker [--server URL] [--identity NAME] [--credential KEY] [--echo-prefix P] [--poll-interval D]")
	fmt.Println("Register with a broker and answer every query with its own message.")
	fmt.Println("Without --credential a random 32-byte key is generated and printed.")
}

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	server := fs.String("server", defaultServerURL, "Broker base URL")
	identity := fs.String("identity", "relaygw-worker", "Worker identity")
	credential := fs.String("credential", "", "Worker credential (generated when empty)")
	prefix := fs.String("echo-prefix", "echo: ", "Prefix for echoed responses")
	pollInterval := fs.Duration("poll-interval", workerclient.DefaultPollInterval, "Poll interval")
	logLevel := fs.String("log-level", "info", "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.Setup(*logLevel, "text")

	c, err := workerclient.New(workerclient.Config{
		ServerURL:    *server,
		Identity:     *identity,
		Credential:   *credential,
		PollInterval: *pollInterval,
	}, workerclient.EchoHandler{Prefix: *prefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Worker setup failed: %v\n", err)
		return 1
	}
	if *credential == "" {
		fmt.Printf("Generated credential: %s\n", c.Credential())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := c.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Worker failed: %v\n", err)
		return 1
	}
	return 0
}

func printQueryHelp() {
	fmt.Println("Usage: relaygw query --credential KEY --message TEXT [--server URL] [--new] [--timeout D]")
	fmt.Println("Send one query to the worker behind KEY and print its answer.")
}

func runQuery(args []string) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	server := fs.String("server", defaultServerURL, "Broker base URL")
	credential := fs.String("credential", "", "Worker credential")
	message := fs.String("message", "", "Message to send")
	newConversation := fs.Bool("new", false, "Start a new conversation")
	timeout := fs.Duration("timeout", 0, "Give up after this long (0 waits for the broker)")
	jsonOut := fs.Bool("json", false, "Output raw JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *credential == "" || *message == "" {
		fmt.Fprintln(os.Stderr, "Error: --credential and --message are required")
		return 1
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	res, err := workerclient.Query(ctx, nil, *server, *credential, *message, *newConversation)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintln(os.Stderr, "Query timed out")
			return 1
		}
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
	} else if res.Response != nil {
		fmt.Println(*res.Response)
	}
	if res.Error != nil {
		fmt.Fprintf(os.Stderr, "Worker error: %s\n", *res.Error)
		return 1
	}
	return 0
}

// --- WATCH ---

func printSystemWatchHelp() {
	fmt.Println("Usage: relaygw system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI.")
	fmt.Println("Shows broker health, workers, in-flight queries, and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --server URL     Broker base URL (default: " + defaultServerURL + ")")
	fmt.Println("  --token TOKEN    Admin bearer token with events:ro and workers:ro (or " + tokenEnvVar + ")")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate queries")
}

func runWatch(args []string) int {
	if hasHelpFlag(args) {
		printSystemWatchHelp()
		return 0
	}

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	server := fs.String("server", defaultServerURL, "Broker base URL")
	token := fs.String("token", os.Getenv(tokenEnvVar), "Admin bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *token == "" {
		fmt.Fprintf(os.Stderr, "Error: admin token required. Use --token or %s env var.\n", tokenEnvVar)
		return 1
	}

	m := watch.New(strings.TrimRight(*server, "/"), *token)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
