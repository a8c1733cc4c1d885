package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/roundtally/internal/auth"
	"github.com/ernie/roundtally/internal/config"
)

// CLI helper variables
var (
	baseURL  = "http://localhost:8080"
	dbPath   string
	apiToken string
)

// cliFlags registers the flags shared by the client commands
type cliFlags struct {
	configPath *string
	url        *string
	token      *string
	jsonOut    *bool
}

func addCLIFlags(fs *flag.FlagSet) cliFlags {
	return cliFlags{
		configPath: fs.String("config", defaultConfigPath, "path to configuration file"),
		url:        fs.String("url", "", "base URL of the roundtally server"),
		token:      fs.String("token", "", "admin token (default $ROUNDTALLY_TOKEN)"),
		jsonOut:    fs.Bool("json", false, "print raw JSON"),
	}
}

// load resolves the server URL, database path and token from the parsed flags
func (f cliFlags) load() *config.Config {
	cfg := loadCLIConfigFromFlags(*f.configPath, *f.url)
	apiToken = *f.token
	if apiToken == "" {
		apiToken = os.Getenv("ROUNDTALLY_TOKEN")
	}
	// Mint a short-lived token when running next to the server
	if apiToken == "" && cfg != nil && cfg.Auth.JWTSecret != "" {
		svc := auth.NewService(cfg.Auth.JWTSecret, 5*time.Minute)
		if tok, err := svc.GenerateToken("cli", true); err == nil {
			apiToken = tok
		}
	}
	return cfg
}

// wantJSON reports whether output should be JSON rather than a table
func (f cliFlags) wantJSON() bool {
	return *f.jsonOut || !term.IsTerminal(int(os.Stdout.Fd()))
}

// loadCLIConfigFromFlags loads config using pre-parsed flag values
func loadCLIConfigFromFlags(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		dbPath = "/var/lib/roundtally/roundtally.db"
		if url != "" {
			baseURL = url
		}
		return nil
	}

	dbPath = cfg.Database.Path
	// Derive URL from config, but allow --url flag to override
	if url != "" {
		baseURL = url
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg
}

func mustLoadConfig(args []string, name string) *config.Config {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func getJSON(path string, target any) error {
	return doJSON(http.MethodGet, path, nil, "", target)
}

// doJSON sends a request to the server and decodes the JSON response.
// Run summaries come back with a 409 or 500 status, so those bodies are
// decoded too before the status is reported.
func doJSON(method, path string, body io.Reader, contentEncoding string, target any) error {
	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		return err
	}
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if target != nil && (resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusInternalServerError) {
			_ = json.Unmarshal(data, target)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(bytes.TrimSpace(data)))
	}
	if target == nil {
		return nil
	}
	return json.Unmarshal(data, target)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
