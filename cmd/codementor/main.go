// Command codementor observes coding-problem pages in Chrome and serves a
// mentor API over the captured problem.
//
// Usage:
//
//	codementor -config codementor.yaml                  # daemon: browser + store + HTTP/MCP API
//	codementor -url https://leetcode.com/problems/two-sum/   # daemon on a single page
//	codementor extract -url <page> | -file page.html    # one-shot extraction to stdout
//	codementor pages add <id> <url> | remove <id> | list
//	codementor keys set <provider> <key> | clear [provider] | list
//	codementor ask <hint|solution|explanation|general> <provider> [page_id]
//	codementor mcp                                       # MCP over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/codementor/dbopen"
	"github.com/hazyhaar/codementor/guard"
	"github.com/hazyhaar/codementor/mentor"
	"github.com/hazyhaar/codementor/pagewatch"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to codementor.yaml config file")
	singleURL := flag.String("url", "", "observe a single URL (daemon) or extract it (extract)")
	file := flag.String("file", "", "extract: read page HTML from a file")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	stdout := flag.Bool("stdout", false, "daemon: also print events as JSON lines")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	sqlTrace := flag.Bool("sql-trace", false, "log every SQL statement of the mentor database")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o := opts{
		configPath: *configPath,
		url:        *singleURL,
		file:       *file,
		dbPath:     *dbPath,
		listen:     *listen,
		stdout:     *stdout,
		sqlTrace:   *sqlTrace,
	}
	if err := run(ctx, logger, o, flag.Args()); err != nil {
		logger.Error("codementor: fatal", "error", err)
		os.Exit(1)
	}
}

type opts struct {
	configPath, url, file, dbPath, listen string
	stdout, sqlTrace                      bool
}

func run(ctx context.Context, logger *slog.Logger, o opts, args []string) error {
	cmd := "daemon"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "daemon":
		return runDaemon(ctx, logger, o)
	case "extract":
		return runExtract(ctx, logger, o)
	case "pages":
		return runPages(ctx, logger, o, args)
	case "keys":
		return runKeys(ctx, logger, o, args)
	case "ask":
		return runAsk(ctx, logger, o, args)
	case "mcp":
		return runMCP(ctx, logger, o)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func mentorConfig(o opts) (*mentor.Config, error) {
	cfg, err := mentor.LoadConfigFile(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.listen != "" {
		cfg.Listen = o.listen
	}
	if o.sqlTrace {
		cfg.SQLTrace = true
	}
	return cfg, nil
}

func pagewatchConfig(o opts) (*pagewatch.Config, error) {
	var cfg *pagewatch.Config
	var err error
	if o.configPath != "" {
		cfg, err = pagewatch.LoadConfigFile(o.configPath)
	} else {
		cfg, err = pagewatch.DefaultConfig()
	}
	if err != nil {
		return nil, err
	}
	if o.url != "" {
		cfg.Pages = append(cfg.Pages, pagewatch.PageConfig{
			ID:  fmt.Sprintf("page-%d", len(cfg.Pages)+1),
			URL: o.url,
		})
	}
	return cfg, nil
}

func openKeeper(o opts, logger *slog.Logger) (*mentor.Keeper, *mentor.Config, error) {
	cfg, err := mentorConfig(o)
	if err != nil {
		return nil, nil, err
	}
	k, err := mentor.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init mentor: %w", err)
	}
	return k, cfg, nil
}

func runDaemon(ctx context.Context, logger *slog.Logger, o opts) error {
	pwCfg, err := pagewatchConfig(o)
	if err != nil {
		return err
	}
	k, cfg, err := openKeeper(o, logger)
	if err != nil {
		return err
	}
	defer k.Close()

	// Pages added with "codementor pages add" live in the mentor database.
	if _, err := k.Store().DB.ExecContext(ctx, pagewatch.PagesSchema); err != nil {
		return fmt.Errorf("pages schema: %w", err)
	}

	sinks, err := pagewatch.SinksFromConfig(pwCfg, logger)
	if err != nil {
		return err
	}
	sinks = append(sinks, k.Sink())
	if o.stdout {
		sinks = append(sinks, pagewatch.NewStdoutSink(os.Stdout))
	}

	w := pagewatch.New(pwCfg, logger, sinks...)
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
	go w.WatchDB(ctx, k.Store().DB)

	k.Start(ctx)

	mcpSrv := newMCPServer(k)
	r := chi.NewRouter()
	r.Mount("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	r.Mount("/", k.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("codementor: http listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("codementor: http server", "error", err)
		}
	}()

	logger.Info("codementor: running", "pages", len(pwCfg.Pages), "db", cfg.DBPath)
	<-ctx.Done()
	logger.Info("codementor: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("codementor: http shutdown", "error", err)
	}
	return nil
}

func newMCPServer(k *mentor.Keeper) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "codementor", Version: version}, nil)
	k.RegisterMCP(srv)
	return srv
}

func runMCP(ctx context.Context, logger *slog.Logger, o opts) error {
	k, _, err := openKeeper(o, logger)
	if err != nil {
		return err
	}
	defer k.Close()
	return newMCPServer(k).Run(ctx, &mcp.StdioTransport{})
}

func runExtract(ctx context.Context, logger *slog.Logger, o opts) error {
	pwCfg, err := pagewatchConfig(opts{configPath: o.configPath})
	if err != nil {
		return err
	}
	var snap any
	switch {
	case o.file != "":
		data, err := guard.ReadFile(o.file)
		if err != nil {
			return err
		}
		snap, err = pagewatch.ExtractHTML(string(data), o.url, "file", pwCfg.Selectors)
		if err != nil {
			return err
		}
	case o.url != "":
		snap, err = pagewatch.ExtractPublicURL(ctx, o.url, "url", pwCfg.Selectors, logger)
		if err != nil {
			return err
		}
	default:
		return errors.New("extract: -url or -file is required")
	}
	return printJSON(snap)
}

func runPages(ctx context.Context, logger *slog.Logger, o opts, args []string) error {
	cfg, err := mentorConfig(o)
	if err != nil {
		return err
	}
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(pagewatch.PagesSchema))
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 0 {
		return errors.New("usage: pages add <id> <url> | remove <id> | list")
	}
	switch args[0] {
	case "add":
		if len(args) != 3 {
			return errors.New("usage: pages add <id> <url>")
		}
		return pagewatch.AddPage(ctx, db, args[1], args[2])
	case "remove":
		if len(args) != 2 {
			return errors.New("usage: pages remove <id>")
		}
		ok, err := pagewatch.RemovePage(ctx, db, args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("page %q not found", args[1])
		}
		return nil
	case "list":
		pages, err := pagewatch.ListPages(ctx, db)
		if err != nil {
			return err
		}
		return printJSON(pages)
	}
	return fmt.Errorf("pages: unknown action %q", args[0])
}

func runKeys(ctx context.Context, logger *slog.Logger, o opts, args []string) error {
	k, _, err := openKeeper(o, logger)
	if err != nil {
		return err
	}
	defer k.Close()

	if len(args) == 0 {
		return errors.New("usage: keys set <provider> <key> | clear [provider] | list")
	}
	switch args[0] {
	case "set":
		if len(args) != 3 {
			return errors.New("usage: keys set <provider> <key>")
		}
		return k.SetKey(ctx, args[1], args[2])
	case "clear":
		provider := ""
		if len(args) > 1 {
			provider = args[1]
		}
		n, err := k.ClearKeys(ctx, provider)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"removed": n})
	case "list":
		ps, err := k.Providers(ctx)
		if err != nil {
			return err
		}
		return printJSON(ps)
	}
	return fmt.Errorf("keys: unknown action %q", args[0])
}

func runAsk(ctx context.Context, logger *slog.Logger, o opts, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: ask <hint|solution|explanation|general> <provider> [page_id]")
	}
	k, _, err := openKeeper(o, logger)
	if err != nil {
		return err
	}
	defer k.Close()

	req := mentor.AskRequest{Kind: args[0], Provider: args[1]}
	if len(args) > 2 {
		req.PageID = args[2]
	}
	ans, err := k.Ask(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(ans.Text)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
