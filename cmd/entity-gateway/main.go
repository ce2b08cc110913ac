// ABOUTME: Entry point for the entity-gateway HTTP server
// ABOUTME: Provides serve, init, health, types and version subcommands

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/entity-gateway/internal/config"
	"github.com/2389/entity-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
            _   _ _                       _
  ___ _ __ | |_(_) |_ _   _    __ _  __ _| |_ _____      ____ _ _   _
 / _ \ '_ \| __| | __| | | |  / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
|  __/ | | | |_| | |_| |_| | | (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \___|_| |_|\__|_|\__|\__, |  \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                      |___/   |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: ENTITY_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/entity-gateway/gateway.yaml > ~/.config/entity-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ENTITY_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "entity-gateway", "gateway.yaml")
}

// getDataPath returns the path to the entity-gateway data directory.
// Priority: XDG_DATA_HOME/entity-gateway > ~/.local/share/entity-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "entity-gateway")
}

func usage() {
	fmt.Println("Usage: entity-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the gateway server")
	fmt.Println("  init      Create a new config file interactively")
	fmt.Println("  health    Check gateway health")
	fmt.Println("  types     List entity types served by a running gateway")
	fmt.Println("  version   Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// A .env file in the working directory is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "health":
		err = runHealth(ctx)
	case "types":
		err = runTypes(ctx, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s (health)\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s ", cfg.Database.Path)
	gray.Printf("(%s)\n", cfg.Database.Driver)
	if len(cfg.Store.Types) > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Types:     %s\n", strings.Join(cfg.Store.Types, ", "))
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else if cfg.Server.GRPCAddr == "" {
		yellow.Print("    ! ")
		fmt.Println("gRPC health disabled (server.grpc_addr is empty)")
	}

	fmt.Println()

	logger.Info("starting entity-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"version", version,
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// getJSON fetches path from the configured gateway
func getJSON(ctx context.Context, path string) (*http.Response, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return http.DefaultClient.Do(req)
}

func runHealth(ctx context.Context) error {
	resp, err := getJSON(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println("healthy")
	return nil
}

func runTypes(ctx context.Context, out io.Writer) error {
	resp, err := getJSON(ctx, "/types")
	if err != nil {
		return fmt.Errorf("listing types: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing types: status %d", resp.StatusCode)
	}

	var types []gateway.EntityTypeResponse
	if err := json.NewDecoder(resp.Body).Decode(&types); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return printTypes(out, types)
}

func printTypes(out io.Writer, types []gateway.EntityTypeResponse) error {
	if len(types) == 0 {
		_, err := fmt.Fprintln(out, "no entity types")
		return err
	}
	for _, t := range types {
		if _, err := fmt.Fprintf(out, "%4d  %s\n", t.ID, t.Name); err != nil {
			return err
		}
	}
	return nil
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("entity-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	answers := initAnswers{}

	fmt.Println("\n--- Server Configuration ---")
	answers.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")
	answers.GRPCAddr = prompt(reader, "gRPC health address (empty to disable)", "localhost:50051")

	fmt.Println("\n--- Database Configuration ---")
	answers.Driver = prompt(reader, "SQLite driver (sqlite/sqlite3)", config.DefaultDriver)
	answers.DBPath = prompt(reader, "SQLite database path", defaultDbPath)
	answers.Types = splitList(prompt(reader, "Entity types (comma separated)", "User"))

	fmt.Println("\n--- Tailscale Configuration ---")
	answers.Tailscale = isYes(prompt(reader, "Enable Tailscale?", "no"))
	if answers.Tailscale {
		answers.TSHostname = prompt(reader, "Tailscale hostname", "entity-gateway")
		answers.TSAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		answers.TSEphemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	answers.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	answers.LogFormat = prompt(reader, "Log format (text/json)", "text")
	answers.Metrics = isYes(prompt(reader, "Expose Prometheus metrics?", "yes"))

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(answers.render()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(answers.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Catch typos now rather than at serve time
	if _, err := config.Load(outputFile); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  entity-gateway serve\n")

	return nil
}

// initAnswers holds the values collected by runInit
type initAnswers struct {
	HTTPAddr    string
	GRPCAddr    string
	Driver      string
	DBPath      string
	Types       []string
	Tailscale   bool
	TSHostname  string
	TSAuthKey   string
	TSEphemeral bool
	LogLevel    string
	LogFormat   string
	Metrics     bool
}

// render produces the YAML config file for the answers
func (a initAnswers) render() string {
	var cfg strings.Builder
	cfg.WriteString("# entity-gateway configuration\n")
	cfg.WriteString("# Generated by entity-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	fmt.Fprintf(&cfg, "  grpc_addr: %q\n", a.GRPCAddr)
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", a.Driver)
	fmt.Fprintf(&cfg, "  path: %q\n", a.DBPath)
	cfg.WriteString("\n")

	cfg.WriteString("store:\n")
	cfg.WriteString("  types:\n")
	for _, t := range a.Types {
		fmt.Fprintf(&cfg, "    - %q\n", t)
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.Tailscale)
	if a.Tailscale {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TSHostname)
		if a.TSAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", a.TSAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", a.TSEphemeral)
	}
	cfg.WriteString("\n")

	cfg.WriteString("search:\n")
	fmt.Fprintf(&cfg, "  default_page_size: %d\n", config.DefaultPageSize)
	fmt.Fprintf(&cfg, "  max_page_size: %d\n", config.DefaultMaxPageSize)
	cfg.WriteString("\n")

	cfg.WriteString("blobs:\n")
	fmt.Fprintf(&cfg, "  chunk_size: %d\n", config.DefaultChunkSize)
	cfg.WriteString("\n")

	cfg.WriteString("idempotency:\n")
	fmt.Fprintf(&cfg, "  ttl: %q\n", config.DefaultIdempotencyTTL.String())
	fmt.Fprintf(&cfg, "  max_entries: %d\n", config.DefaultIdempotencySize)
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.Metrics)
	fmt.Fprintf(&cfg, "  path: %q\n", config.DefaultMetricsPath)

	return cfg.String()
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

// splitList splits a comma separated answer, dropping empty items
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
