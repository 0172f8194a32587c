// Package mentor is the consumer side of pagewatch: it keeps the current
// problem of each observed page, seals provider API keys, and answers
// hint / solution / explanation requests through an AI provider.
//
//	pagewatch → Keeper.Sink() → store → HTTP / MCP / SSE
//
// Usage:
//
//	k, err := mentor.New(cfg, logger)
//	defer k.Close()
//	w := pagewatch.New(pwCfg, logger, k.Sink())
//	k.RegisterMCP(mcpServer)
//	http.ListenAndServe(cfg.Listen, k.Handler())
//	k.Start(ctx)
package mentor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/codementor/dbopen"
	"github.com/hazyhaar/codementor/mentor/internal/prompt"
	"github.com/hazyhaar/codementor/mentor/internal/provider"
	"github.com/hazyhaar/codementor/mentor/internal/render"
	"github.com/hazyhaar/codementor/mentor/internal/store"
	"github.com/hazyhaar/codementor/mentor/internal/vault"
	"github.com/hazyhaar/codementor/observability"
	"github.com/hazyhaar/codementor/pagewatch"
	"github.com/hazyhaar/codementor/problem"
	"github.com/hazyhaar/codementor/shield"
	"github.com/hazyhaar/codementor/trace"
	"github.com/hazyhaar/codementor/watch"
)

// Keeper is the mentor orchestrator.
type Keeper struct {
	store     *store.Store
	vault     *vault.Vault // nil while locked
	vaultErr  error
	providers provider.Registry
	renderer  *render.Renderer
	watcher   *watch.Watcher
	limiter   *shield.RateLimiter
	audit     *observability.AuditLogger
	logger    *slog.Logger
	config    *Config
}

// New opens the database and unlocks the vault. A missing or wrong master
// key does not fail: the keeper runs with key operations reporting
// VAULT_LOCKED.
func New(cfg *Config, logger *slog.Logger) (*Keeper, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	dbOpts := []dbopen.Option{dbopen.WithSchema(observability.Schema)}
	if cfg.SQLTrace {
		trace.SetLogger(logger.With("component", "sql"))
		dbOpts = append(dbOpts, dbopen.WithDriver(trace.DriverName))
	}
	s, err := store.Open(cfg.DBPath, dbOpts...)
	if err != nil {
		return nil, err
	}

	opts := func(url, model string) provider.Options {
		return provider.Options{BaseURL: url, Model: model, RatePerMinute: cfg.RatePerMinute, Logger: logger}
	}
	k := newKeeper(s, cfg, logger, provider.NewRegistry(
		opts(cfg.OpenAIURL, cfg.OpenAIModel),
		opts(cfg.GoogleURL, cfg.GoogleModel),
	))
	k.unlock(context.Background(), cfg.MasterKey, vault.DefaultKDF)
	return k, nil
}

func newKeeper(s *store.Store, cfg *Config, logger *slog.Logger, providers provider.Registry) *Keeper {
	return &Keeper{
		store:     s,
		vaultErr:  vault.ErrLocked,
		providers: providers,
		renderer:  render.New(),
		watcher: watch.New(s.DB, watch.Options{
			Interval: cfg.WatchInterval,
			Debounce: cfg.WatchDebounce,
			Logger:   logger,
		}),
		limiter: shield.NewRateLimiter(map[string]shield.Rule{
			"POST /ask": {PerMinute: cfg.AskPerMinute, Burst: cfg.AskPerMinute},
		}, logger),
		audit:  observability.NewAuditLogger(s.DB, 256, observability.WithLogger(logger)),
		logger: logger,
		config: cfg,
	}
}

func (k *Keeper) unlock(ctx context.Context, passphrase string, kdf vault.KDF) {
	v, err := vault.Open(ctx, k.store, passphrase, kdf)
	if err != nil {
		k.vaultErr = err
		k.logger.Warn("mentor: vault locked", "error", err)
		return
	}
	k.vault, k.vaultErr = v, nil
}

// Start launches the change watcher and the history retention loop. It
// returns immediately.
func (k *Keeper) Start(ctx context.Context) {
	go k.watcher.OnChange(ctx, func() error { return nil })
	go k.retain(ctx)
	k.limiter.StartGC(10*time.Minute, ctx.Done())
	k.logger.Info("mentor: started", "db", k.config.DBPath, "vault_locked", k.vault == nil)
}

func (k *Keeper) retain(ctx context.Context) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		k.prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (k *Keeper) prune(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -k.config.HistoryDays).UnixMilli()
	n, err := k.store.PruneHistory(ctx, cutoff)
	if err != nil {
		k.logger.Warn("mentor: prune history", "error", err)
		return
	}
	if n > 0 {
		k.logger.Info("mentor: pruned history", "snapshots", n)
	}
	if n, err := k.audit.Cleanup(ctx, time.UnixMilli(cutoff)); err != nil {
		k.logger.Warn("mentor: prune audit", "error", err)
	} else if n > 0 {
		k.logger.Info("mentor: pruned audit", "entries", n)
	}
}

// Close flushes the audit trail and closes the database.
func (k *Keeper) Close() error {
	k.audit.Close()
	return k.store.Close()
}

// Audit returns the most recent audited operations, optionally restricted
// to one operation name.
func (k *Keeper) Audit(ctx context.Context, operation string, limit int) ([]observability.Entry, error) {
	if limit < 0 || limit > 500 {
		return nil, invalidRequest("limit must be between 0 and 500")
	}
	k.audit.Flush()
	entries, err := k.audit.Query(ctx, observability.Filter{Operation: operation, Limit: limit})
	return entries, asError(err)
}

// Store returns the underlying store for direct access (testing, admin).
func (k *Keeper) Store() *store.Store {
	return k.store
}

// Sink returns a pagewatch sink that records problem events in this keeper.
func (k *Keeper) Sink() pagewatch.Sink {
	return pagewatch.NewCallbackSink(k.HandleEvent)
}

// HandleEvent records a pagewatch event: problemInfo replaces the page's
// current problem, problemCleared removes it.
func (k *Keeper) HandleEvent(ctx context.Context, ev problem.Event) error {
	switch ev.Type {
	case problem.EventProblemInfo:
		if ev.Data == nil {
			return fmt.Errorf("mentor: problemInfo without data")
		}
		if err := k.store.UpsertProblem(ctx, ev.Data); err != nil {
			return err
		}
		k.logger.Debug("mentor: problem updated", "page_id", ev.PageID, "language", ev.Data.Language)
	case problem.EventProblemCleared:
		removed, err := k.store.ClearProblem(ctx, ev.PageID)
		if err != nil {
			return err
		}
		if removed {
			k.logger.Info("mentor: problem cleared", "page_id", ev.PageID, "url", ev.URL)
		}
	default:
		return fmt.Errorf("mentor: unknown event type %q", ev.Type)
	}
	return nil
}

// Subscribe notifies each committed change to the database. cancel must be
// called to release the subscription.
func (k *Keeper) Subscribe() (<-chan int64, func()) {
	return k.watcher.Subscribe()
}

// Problem returns the current problem of pageID, or of the most recently
// updated page when pageID is empty.
func (k *Keeper) Problem(ctx context.Context, pageID string) (*store.Current, error) {
	cur, err := k.store.CurrentProblem(ctx, pageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("no problem information found")
	}
	return cur, asError(err)
}

// History returns recent snapshots, newest first.
func (k *Keeper) History(ctx context.Context, pageID string, limit int) ([]*problem.Snapshot, error) {
	if limit < 0 || limit > 500 {
		return nil, invalidRequest("limit must be between 0 and 500")
	}
	h, err := k.store.History(ctx, pageID, limit)
	return h, asError(err)
}

// Keys lists the providers with a stored key.
func (k *Keeper) Keys(ctx context.Context) ([]store.KeyInfo, error) {
	if k.vault == nil {
		return nil, asError(k.vaultErr)
	}
	keys, err := k.vault.Providers(ctx)
	if keys == nil {
		keys = []store.KeyInfo{}
	}
	return keys, asError(err)
}

// SetKey validates and stores the API key of provider.
func (k *Keeper) SetKey(ctx context.Context, providerName, key string) (err error) {
	defer k.record(ctx, "set_key", map[string]string{"provider": providerName}, time.Now(), &err)
	if _, ok := k.providers[providerName]; !ok {
		return invalidRequest("invalid API provider %q", providerName)
	}
	if k.vault == nil {
		return asError(k.vaultErr)
	}
	if err := k.vault.Store(ctx, providerName, key); err != nil {
		return asError(err)
	}
	k.logger.Info("mentor: api key saved", "provider", providerName)
	return nil
}

// ClearKeys removes the key of provider, or every key when provider is
// empty.
func (k *Keeper) ClearKeys(ctx context.Context, providerName string) (n int64, err error) {
	defer k.record(ctx, "clear_keys", map[string]string{"provider": providerName}, time.Now(), &err)
	if k.vault == nil {
		return 0, asError(k.vaultErr)
	}
	n, err = k.vault.Clear(ctx, providerName)
	return n, asError(err)
}

// ProviderStatus tells whether a provider can be asked.
type ProviderStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// Providers lists the known providers and whether each has a key.
func (k *Keeper) Providers(ctx context.Context) ([]ProviderStatus, error) {
	have := map[string]bool{}
	if k.vault != nil {
		keys, err := k.vault.Providers(ctx)
		if err != nil {
			return nil, asError(err)
		}
		for _, key := range keys {
			have[key.Provider] = true
		}
	}
	var out []ProviderStatus
	for _, n := range k.providers.Names() {
		out = append(out, ProviderStatus{Name: n, Configured: have[n]})
	}
	return out, nil
}

// AskRequest asks the mentor about the current problem of a page.
type AskRequest struct {
	Kind     string `json:"kind"`
	Provider string `json:"provider"`
	PageID   string `json:"page_id,omitempty"`
}

// Answer is the mentor response.
type Answer struct {
	Kind      prompt.Kind `json:"kind"`
	Provider  string      `json:"provider"`
	PageID    string      `json:"page_id"`
	Title     string      `json:"title"`
	Language  string      `json:"language"`
	Text      string      `json:"text"`
	HTML      string      `json:"html"`
	CreatedAt int64       `json:"created_at"`
}

// Ask builds the prompt for the current problem, calls the provider with
// its stored key and renders the answer.
func (k *Keeper) Ask(ctx context.Context, req AskRequest) (ans *Answer, err error) {
	defer k.record(ctx, "ask", req, time.Now(), &err)
	p, ok := k.providers[req.Provider]
	if !ok {
		return nil, invalidRequest("please select an AI provider")
	}
	if k.vault == nil {
		return nil, asError(k.vaultErr)
	}

	cur, err := k.Problem(ctx, req.PageID)
	if err != nil {
		return nil, err
	}
	if cur.Language == "" {
		return nil, invalidRequest("no problem or language information available")
	}

	key, err := k.vault.Get(ctx, req.Provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("no API key found for %s", req.Provider)
	}
	if err != nil {
		return nil, asError(err)
	}

	kind := prompt.ParseKind(req.Kind)
	text, err := p.Complete(ctx, key, prompt.Build(kind, &cur.Snapshot))
	if err != nil {
		k.logger.Warn("mentor: provider call failed", "provider", req.Provider, "error", err)
		return nil, asError(err)
	}
	html, err := k.renderer.HTML(text)
	if err != nil {
		return nil, asError(err)
	}

	k.logger.Info("mentor: answered", "page_id", cur.PageID, "kind", kind, "provider", req.Provider)
	return &Answer{
		Kind:      kind,
		Provider:  req.Provider,
		PageID:    cur.PageID,
		Title:     cur.Title,
		Language:  cur.Language,
		Text:      text,
		HTML:      html,
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}

// record audits an operation. errp points at the named error result so the
// deferred call sees the final outcome.
func (k *Keeper) record(ctx context.Context, op string, params any, start time.Time, errp *error) {
	k.audit.Record(ctx, op, params, *errp, time.Since(start))
}
