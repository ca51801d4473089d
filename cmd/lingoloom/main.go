// Command lingoloom generates structured language-learning content with a
// large language model.
//
// Single request:
//
//	lingoloom -config config.yaml -kind translation -language german -param textToTranslate=Hello -moderate
//
// Batch, one JSON request per line, results as JSON lines on stdout:
//
//	lingoloom -config config.yaml -batch requests.jsonl -concurrency 4
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/lingoloom/internal/app"
	"github.com/MrWong99/lingoloom/internal/config"
	"github.com/MrWong99/lingoloom/internal/observe"
	"github.com/MrWong99/lingoloom/internal/prompt"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	kind := flag.String("kind", "", "content kind to generate, e.g. translation or vocabulary-lesson")
	language := flag.String("language", "", "target language, e.g. german")
	params := paramsFlag{}
	flag.Var(params, "param", "template parameter as key=value (repeatable)")
	moderate := flag.Bool("moderate", false, "check the request's free text with the moderation gate before generating")
	moderateOutput := flag.Bool("moderate-output", false, "also check the generated text with the moderation gate")
	batchPath := flag.String("batch", "", `JSONL file with one request per line ("-" reads stdin)`)
	concurrency := flag.Int("concurrency", 4, "maximum concurrent requests in batch mode")
	outPath := flag.String("out", "-", `output file ("-" writes stdout)`)
	list := flag.Bool("list", false, "print the supported content kinds per language and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("lingoloom", version)
		return exitOK
	}
	if *list {
		return printSupport(os.Stdout)
	}
	if *batchPath == "" && *kind == "" {
		fmt.Fprintln(os.Stderr, "lingoloom: either -kind or -batch is required")
		flag.Usage()
		return exitFatal
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lingoloom: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lingoloom: %v\n", err)
		}
		return exitFatal
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("lingoloom starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "lingoloom",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitFatal
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return exitFatal
	}

	printStartupSummary(os.Stderr, cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitFatal
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	// ── Ops server (optional) ─────────────────────────────────────────────────
	if addr := cfg.Server.ListenAddr; addr != "" {
		go func() {
			if err := application.ServeOps(ctx, addr, cfg.Server.TLS); err != nil {
				slog.Error("ops server error", "err", err)
			}
		}()
	}

	out, closeOut, err := openOutput(*outPath)
	if err != nil {
		slog.Error("failed to open output", "path", *outPath, "err", err)
		return exitFatal
	}
	defer closeOut()

	if *batchPath == "" {
		item := app.BatchItem{
			Kind:           *kind,
			Language:       *language,
			Params:         params,
			Moderate:       *moderate,
			ModerateOutput: *moderateOutput,
		}
		return runSingle(ctx, application, item, out)
	}

	// Batches can run for a long time; pick up tuning changes while they do.
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
		}
		if err := application.Reload(next, d); err != nil {
			slog.Warn("config reload failed", "err", err)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	return runBatch(ctx, application, *batchPath, out, *concurrency)
}

// ── Modes ─────────────────────────────────────────────────────────────────────

func runSingle(ctx context.Context, a *app.App, item app.BatchItem, out io.Writer) int {
	req, err := item.Request()
	var outcome app.Outcome
	if err != nil {
		outcome = app.NewOutcome(ctx, item, nil, err)
	} else {
		res, gerr := a.Generate(ctx, req)
		outcome = app.NewOutcome(ctx, item, res, gerr)
		err = gerr
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(outcome); encErr != nil {
		slog.Error("failed to write result", "err", encErr)
		return exitFatal
	}
	if err != nil {
		slog.Error("generation failed", "code", outcome.ErrorCode, "err", err)
		return exitFatal
	}
	return exitOK
}

func runBatch(ctx context.Context, a *app.App, path string, out io.Writer, concurrency int) int {
	in := io.Reader(os.Stdin)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			slog.Error("failed to open batch file", "path", path, "err", err)
			return exitFatal
		}
		defer f.Close()
		in = f
	}

	start := time.Now()
	stats, err := a.RunBatch(ctx, in, out, concurrency)
	slog.Info("batch finished",
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	switch {
	case err != nil:
		slog.Error("batch aborted", "err", err)
		return exitFatal
	case stats.Failed > 0:
		return exitPartial
	default:
		return exitOK
	}
}

// printSupport writes the content kinds available per language as JSON.
func printSupport(w io.Writer) int {
	reg, err := prompt.NewRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lingoloom: %v\n", err)
		return exitFatal
	}
	support := make(map[string][]prompt.ContentKind)
	for _, lang := range reg.Languages() {
		for _, k := range prompt.Kinds() {
			if reg.Supports(k, lang) {
				support[lang] = append(support[lang], k)
			}
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(support); err != nil {
		fmt.Fprintf(os.Stderr, "lingoloom: %v\n", err)
		return exitFatal
	}
	return exitOK
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        lingoloom startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	fmt.Fprintf(w, "║  %-12s    : %-19d ║\n", "Fallbacks", len(cfg.Providers.LLMFallbacks))
	printProvider(w, "Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider(w, "Moderation", cfg.Providers.Moderation.Name, cfg.Providers.Moderation.Model)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Fprintf(w, "║  %-12s    : %s ║\n", kind, fitColumn(value, 19))
}

// fitColumn cuts s to width runes, marking the cut with an ellipsis, and pads
// it with spaces. fmt pads by bytes, which skews the box for non-ASCII names.
func fitColumn(s string, width int) string {
	r := []rune(s)
	if len(r) > width {
		r = append(r[:width-1], '…')
	}
	return string(r) + strings.Repeat(" ", width-len(r))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close output", "path", path, "err", err)
		}
	}, nil
}

// paramsFlag collects repeated -param key=value flags.
type paramsFlag map[string]any

func (p paramsFlag) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (p paramsFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	p[k] = v
	return nil
}
