// Package app wires the relay together and runs it in one of three modes:
//
//   - Relay mode: poll the watched account forever, publish, reply, recover
//   - Once mode: a single poll pass with synchronous replies, then exit
//   - Migrate mode: apply PostgreSQL migrations and exit
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/edit-relay/internal/core/domain"
	apperrors "github.com/lueurxax/edit-relay/internal/core/errors"
	"github.com/lueurxax/edit-relay/internal/ingest/reddit"
	"github.com/lueurxax/edit-relay/internal/platform/config"
	"github.com/lueurxax/edit-relay/internal/platform/observability"
	"github.com/lueurxax/edit-relay/internal/platform/worker"
	"github.com/lueurxax/edit-relay/internal/process/dedup"
	"github.com/lueurxax/edit-relay/internal/process/filters"
	"github.com/lueurxax/edit-relay/internal/process/pipeline"
	"github.com/lueurxax/edit-relay/internal/process/retry"
	db "github.com/lueurxax/edit-relay/internal/storage"
	"github.com/lueurxax/edit-relay/internal/storage/flatfile"
	"github.com/lueurxax/edit-relay/internal/telegrambot"
)

const (
	workerName           = "relay"
	taskDestinationSync  = "destination_sync"
	taskFilterRefresh    = "filter_refresh"
	msgReplyQueueStopped = "reply queue stopped"
	msgBotStopped        = "telegram bot stopped"
	logFieldState        = "state"
	logFieldPublished    = "published"
)

// ErrStateOwned is returned when another relay holds the PostgreSQL state.
var ErrStateOwned = errors.New("relay state is owned by another instance")

type stateStore interface {
	dedup.LedgerStore
	dedup.CheckpointStore
	observability.Pinger
	Close()
}

// App holds the configuration and provides methods to run different modes.
type App struct {
	cfg    *config.Config
	logger *zerolog.Logger
}

// New creates a new App instance.
func New(cfg *config.Config, logger *zerolog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// relay is one fully wired instance.
type relay struct {
	store    stateStore
	lists    *filters.Lists
	client   *reddit.Client
	stream   *reddit.Stream
	pipeline *pipeline.Pipeline
	queue    *pipeline.ReplyQueue
	bot      *telegrambot.Bot
	status   *statusBoard
}

// RunMigrate applies migrations to the PostgreSQL state store.
func (a *App) RunMigrate(ctx context.Context) error {
	database, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	a.logger.Info().Msg("Migrations applied")

	return nil
}

// RunRelay runs the relay until ctx is canceled or an invariant is violated.
func (a *App) RunRelay(ctx context.Context) error {
	a.logger.Info().
		Str("watched_user", a.cfg.Stream.WatchedUser).
		Str("destination", a.cfg.Publish.Destination).
		Msg("Starting relay mode")

	r, err := a.build(ctx, true)
	if err != nil {
		return err
	}
	defer r.store.Close()

	go a.runHealthServer(ctx, r.store)
	go a.runReplyQueue(ctx, r.queue)

	if r.bot != nil {
		go a.runBot(ctx, r.bot)
	}

	err = worker.Loop(ctx, worker.Config{
		Name:         workerName,
		PollInterval: a.cfg.Stream.PollInterval,
		Process: func(ctx context.Context) error {
			return r.stream.Poll(ctx, r.handle(a.logger))
		},
		PeriodicTasks: []worker.PeriodicTask{
			{
				Name:     taskDestinationSync,
				Interval: a.cfg.Publish.SyncInterval,
				Run:      r.syncDestination(a.logger),
			},
			{
				Name:     taskFilterRefresh,
				Interval: a.cfg.Filters.RefreshInterval,
				Run: func(context.Context) {
					r.lists.MaybeRefresh(time.Now())
				},
			},
		},
		OnError: a.restartPolicy(r.stream),
		Logger:  a.logger,
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}

	return err
}

// RunOnce performs a single poll pass. Context replies are posted inline.
func (a *App) RunOnce(ctx context.Context) error {
	a.logger.Info().Msg("Starting single pass")

	r, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer r.store.Close()

	r.syncDestination(a.logger)(ctx)

	if err := r.stream.Poll(ctx, r.handle(a.logger)); err != nil {
		return fmt.Errorf("single pass: %w", err)
	}

	a.logger.Info().Str("status", r.status.String()).Msg("Single pass finished")

	return nil
}

// restartPolicy decides what the loop does after a failed poll. Invariant
// violations end the process; anything else waits, rewinds the stream and
// carries on, so an item that failed mid-way is offered again.
func (a *App) restartPolicy(stream *reddit.Stream) func(ctx context.Context, err error) bool {
	return func(ctx context.Context, err error) bool {
		if errors.Is(err, apperrors.ErrInvariantViolation) {
			a.logger.Error().Err(err).Msg("invariant violated, stopping relay")
			return false
		}

		var panicErr *worker.PanicError
		if errors.As(err, &panicErr) {
			a.logger.Error().Err(err).Msg("poll panicked, restarting stream")
		} else {
			a.logger.Warn().Err(err).Dur("delay", a.cfg.Stream.RestartDelay).Msg("stream error, restarting")
		}

		if waitErr := worker.Wait(ctx, a.cfg.Stream.RestartDelay); waitErr != nil {
			return false
		}

		stream.Reset()

		return true
	}
}

func (r *relay) handle(logger *zerolog.Logger) reddit.HandleFunc {
	return func(ctx context.Context, item domain.InboundItem) error {
		out, err := r.pipeline.Process(ctx, item)
		r.status.observe(out, r.pipeline.KnownURLs())

		if len(out.Published) > 0 {
			r.status.advance(item.CreatedAt)
		}

		if err != nil {
			return err
		}

		if len(out.Published) > 0 || out.State == pipeline.StateFailedPermanent {
			logger.Info().
				Str(pipeline.LogFieldItemID, out.ItemID).
				Str(pipeline.LogFieldCorrelationID, out.CorrelationID).
				Str(logFieldState, string(out.State)).
				Int(logFieldPublished, len(out.Published)).
				Strs("abandoned", out.Abandoned).
				Msg("item processed")
		}

		return nil
	}
}

func (r *relay) syncDestination(logger *zerolog.Logger) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := r.pipeline.SyncDestination(ctx); err != nil {
			logger.Warn().Err(err).Msg("destination sync failed")
			return
		}

		r.status.setKnown(r.pipeline.KnownURLs())
	}
}

// build opens the state store and wires every component. With async set,
// context replies go through a ReplyQueue that the caller must run.
func (a *App) build(ctx context.Context, async bool) (*relay, error) {
	store, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}

	r, err := a.wire(ctx, store, async)
	if err != nil {
		store.Close()
		return nil, err
	}

	return r, nil
}

func (a *App) wire(ctx context.Context, store stateStore, async bool) (*relay, error) {
	ledger, err := dedup.NewLedger(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	checkpoint, err := dedup.LoadCheckpoint(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	lists := filters.NewLists(a.cfg.Filters.ApprovedTextsPath, a.cfg.Filters.IgnoredChannelsPath, a.cfg.Filters.RefreshInterval, a.logger)
	snapshot := lists.Load()

	a.logger.Info().
		Int("ledger", ledger.Len()).
		Time("checkpoint", checkpoint.Value()).
		Int("approved_texts", len(snapshot.ApprovedTexts)).
		Int("ignored_channels", len(snapshot.IgnoredChannels)).
		Msg("State loaded")

	client, err := reddit.New(ctx, a.redditConfig(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("reddit client: %w", err)
	}

	stream, err := reddit.NewStream(client, a.cfg.Stream.WatchedUser, a.cfg.Stream.FetchLimit, a.cfg.Stream.SeenCacheSize, a.logger)
	if err != nil {
		return nil, fmt.Errorf("comment stream: %w", err)
	}

	policy := a.retryPolicy()
	replier := pipeline.NewReplier(client, policy.ReplyWait, nil, a.logger)

	r := &relay{
		store:  store,
		lists:  lists,
		client: client,
		stream: stream,
		status: newStatusBoard(ledger.Len(), checkpoint.Value()),
	}

	var replies pipeline.ContextPoster = replier
	if async {
		r.queue = pipeline.NewReplyQueue(replier, a.cfg.Publish.ReplyQueueSize, a.logger)
		replies = r.queue
	}

	var notifier pipeline.Notifier = telegrambot.NopNotifier{}

	if a.cfg.Bot.Enabled() {
		bot, err := telegrambot.New(a.cfg.Bot.Token, a.cfg.Bot.AdminChatID, r.status.String, a.logger)
		if err != nil {
			a.logger.Warn().Err(err).Msg("telegram notifications disabled")
		} else {
			r.bot = bot
			notifier = bot
		}
	}

	r.pipeline = pipeline.New(pipeline.Deps{
		Backend:    client,
		Classifier: filters.NewClassifier(a.cfg.Filters.ImageHosts, a.cfg.Filters.TemplateMarkers),
		Filters:    lists,
		Ledger:     ledger,
		Checkpoint: checkpoint,
		Replies:    replies,
		Notifier:   notifier,
		Logger:     a.logger,
	}, pipeline.Options{
		Policy:           policy,
		RecentPostsLimit: a.cfg.Publish.RecentPostsLimit,
		Context: pipeline.ContextOptions{
			WatchedUser: a.cfg.Stream.WatchedUser,
			Footer:      a.cfg.Publish.ReplyFooter,
		},
		Flair: pipeline.NewFlairTable(a.cfg.Flair.Enabled, pipeline.FlairTexts{
			Gaming:  a.cfg.Flair.Gaming,
			Series:  a.cfg.Flair.Series,
			General: a.cfg.Flair.General,
		}),
	})

	return r, nil
}

func (a *App) openState(ctx context.Context) (stateStore, error) {
	switch a.cfg.State.Backend {
	case config.StateBackendPostgres:
		database, err := a.openDatabase(ctx)
		if err != nil {
			return nil, err
		}

		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}

		owned, err := database.AcquireOwnership(ctx)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("acquire state ownership: %w", err)
		}

		if !owned {
			database.Close()
			return nil, ErrStateOwned
		}

		return database, nil
	default:
		store, err := flatfile.New(a.cfg.State.LedgerPath, a.cfg.State.CheckpointPath)
		if err != nil {
			return nil, fmt.Errorf("open state files: %w", err)
		}

		return store, nil
	}
}

func (a *App) openDatabase(ctx context.Context) (*db.DB, error) {
	if a.cfg.Database.PostgresDSN == "" {
		return nil, fmt.Errorf("%w: POSTGRES_DSN is empty", apperrors.ErrInvalidInput)
	}

	database, err := db.NewWithOptions(ctx, a.cfg.Database.PostgresDSN, db.PoolOptions{
		MaxConns:          a.cfg.Database.MaxConnections,
		MinConns:          a.cfg.Database.MinConnections,
		MaxConnIdleTime:   a.cfg.Database.MaxConnIdleTime,
		MaxConnLifetime:   a.cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: a.cfg.Database.HealthCheckPeriod,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return database, nil
}

func (a *App) redditConfig() reddit.Config {
	return reddit.Config{
		ClientID:       a.cfg.Reddit.ClientID,
		ClientSecret:   a.cfg.Reddit.ClientSecret,
		Username:       a.cfg.Reddit.Username,
		Password:       a.cfg.Reddit.Password,
		UserAgent:      a.cfg.Reddit.UserAgent,
		BaseURL:        a.cfg.Reddit.APIBaseURL,
		TokenURL:       a.cfg.Reddit.TokenURL,
		Destination:    a.cfg.Publish.Destination,
		RequestsPerMin: a.cfg.Reddit.RequestsPerMin,
		Timeout:        a.cfg.Reddit.Timeout,
		ReadRetryMax:   a.cfg.Reddit.ReadRetryMax,
	}
}

func (a *App) retryPolicy() retry.Policy {
	return retry.Policy{
		TransientMaxAttempts: a.cfg.Retry.TransientMaxAttempts,
		TransientWait:        a.cfg.Retry.TransientWait,
		TransportWait:        a.cfg.Retry.TransportWait,
		OverloadedWait:       a.cfg.Retry.OverloadedWait,
		ServerWait:           a.cfg.Retry.ServerWait,
		ReplyWait:            a.cfg.Retry.ReplyWait,
	}.WithDefaults()
}

func (a *App) runHealthServer(ctx context.Context, store observability.Pinger) {
	srv := observability.NewServer(store, a.cfg.HealthPort, a.logger)
	if err := srv.Start(ctx); err != nil {
		a.logger.Error().Err(err).Msg("health server stopped")
	}
}

func (a *App) runReplyQueue(ctx context.Context, queue *pipeline.ReplyQueue) {
	if err := queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn().Err(err).Msg(msgReplyQueueStopped)
		return
	}

	a.logger.Info().Msg(msgReplyQueueStopped)
}

func (a *App) runBot(ctx context.Context, bot *telegrambot.Bot) {
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn().Err(err).Msg(msgBotStopped)
		return
	}

	a.logger.Info().Msg(msgBotStopped)
}
