package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/scanning"
	"github.com/zombor/expense-tracker/internal/server"
	"github.com/zombor/expense-tracker/internal/source"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("expense-tracker")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		dbPath           = fs.StringLong("db", "expenses.db", "Database file path")
		archivePath      = fs.StringLong("archive", "./receipts", "Directory for uploaded receipt images (empty disables)")
		scannerType      = fs.StringLong("scanner", "gemini", "Inference backend: 'gemini' or 'ollama'")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel      = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel      = fs.StringLong("ollama-model", "llava", "Ollama model name (needs vision for receipt photos)")
		inferTimeout     = fs.DurationLong("inference-timeout", 0, "Timeout per inference call (0 uses the backend default)")
		dedupWindow      = fs.DurationLong("dedup-window", expense.DefaultDedupWindow, "Window within which identical expenses are duplicates")
		minConfidence    = fs.Float64Long("min-confidence", expense.DefaultMinConfidence, "Minimum classification confidence for emails")
		taxonomyPath     = fs.StringLong("taxonomy", "", "YAML category taxonomy (empty uses the built-in one)")
		retryAttempts    = fs.IntLong("retry-attempts", expense.DefaultRetryPolicy.MaxAttempts, "Attempts per candidate when inference times out")
		retryBackoff     = fs.DurationLong("retry-backoff", expense.DefaultRetryPolicy.InitialInterval, "Initial wait between attempts")
		gmailCredentials = fs.StringLong("gmail-credentials", "", "Google OAuth client credentials JSON (enables Gmail import)")
		gmailToken       = fs.StringLong("gmail-token", "gmail-token.json", "Authorized Gmail OAuth token JSON")
		gmailInterval    = fs.DurationLong("gmail-interval", 0, "Pull Gmail on this interval (0 pulls only on request)")
		gmailPageSize    = fs.IntLong("gmail-page-size", source.DefaultPageSize, "Message ids listed per Gmail request")
		gmailMax         = fs.IntLong("gmail-max", 200, "Maximum messages per Gmail pull (0 means no limit)")
		authUser         = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass         = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel         = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat        = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		_                = fs.StringLong("config", "", "Config file with one 'flag value' per line")
		showVersion      = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_TRACKER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(os.Stderr, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := expense.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize inference gateway based on type
	var gateway scanning.Gateway
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini...", "model", *geminiModel)
		gateway, err = scanning.NewGemini(ctx, apiKey, *geminiModel, *inferTimeout)
	case "ollama":
		slog.Info("Initializing Ollama...", "url", *ollamaURL, "model", *ollamaModel)
		gateway, err = scanning.NewOllama(*ollamaURL, *ollamaModel, *inferTimeout)
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize inference gateway", "scanner", *scannerType, "error", err)
		os.Exit(1)
	}
	defer gateway.Close()

	taxonomy := expense.DefaultTaxonomy()
	if *taxonomyPath != "" {
		taxonomy, err = expense.LoadTaxonomyFile(*taxonomyPath)
		if err != nil {
			slog.Error("Failed to load taxonomy", "path", *taxonomyPath, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Loaded taxonomy", "categories", taxonomy.Names())

	pipeline := expense.NewPipeline(gateway, db, taxonomy, expense.PipelineConfig{
		DedupWindow:   *dedupWindow,
		MinConfidence: *minConfidence,
	})
	policy := expense.RetryPolicy{
		MaxAttempts:     *retryAttempts,
		InitialInterval: *retryBackoff,
		MaxInterval:     10 * *retryBackoff,
	}

	service := server.NewService(pipeline, db, gateway, policy)

	if *archivePath != "" {
		archive, err := server.NewLocalArchive(*archivePath)
		if err != nil {
			slog.Error("Failed to initialize receipt archive", "error", err)
			os.Exit(1)
		}
		service.WithArchive(archive)
	}

	if *gmailCredentials != "" {
		search, err := source.NewGmail(ctx, *gmailCredentials, *gmailToken, source.GmailConfig{
			PageSize:    int64(*gmailPageSize),
			MaxMessages: *gmailMax,
		})
		if err != nil {
			slog.Error("Failed to initialize Gmail", "error", err)
			os.Exit(1)
		}
		puller := source.NewPuller(search, pipeline, db, policy)
		service.WithPuller(puller)

		if *gmailInterval > 0 {
			slog.Info("Scheduling Gmail pulls", "interval", *gmailInterval)
			go puller.Run(ctx, *gmailInterval)
		}
	}

	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(service, basicAuth)

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	addr := fmt.Sprintf(":%d", *port)
	if err := srv.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
}

// newLogger builds the process logger from the --log-level and --log-format flags
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, errors.New("log format must be 'text' or 'json'")
	}
}
