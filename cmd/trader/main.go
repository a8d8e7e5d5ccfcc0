package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"optionsbot-v1/config"
	"optionsbot-v1/internal/api"
	"optionsbot-v1/internal/engine"
	"optionsbot-v1/internal/gateway"
	"optionsbot-v1/internal/marketdata/feed"
	"optionsbot-v1/internal/markethours"
	"optionsbot-v1/internal/metrics"
	"optionsbot-v1/internal/model"
	"optionsbot-v1/internal/notification"
	"optionsbot-v1/internal/pnl"
	"optionsbot-v1/internal/positions"
	"optionsbot-v1/internal/reconcile"
	"optionsbot-v1/internal/risk"
	redisstore "optionsbot-v1/internal/store/redis"
	sqlitestore "optionsbot-v1/internal/store/sqlite"
	"optionsbot-v1/internal/tickstore"
	"optionsbot-v1/pkg/smartconnect"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[trader] starting...")

	cfg := config.Load()
	rule, _ := config.RuleFor(cfg.Index)
	log.Printf("[trader] mode=%s index=%s lot=%d", cfg.Mode, rule.Name, rule.LotSize)

	tiers, err := risk.ParseTiers(cfg.TrailTiers)
	if err != nil {
		log.Fatalf("[trader] trail tiers: %v", err)
	}

	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Alert channels ----
	var notifiers []notification.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[trader] telegram alerts enabled")
	}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
		log.Println("[trader] webhook alerts enabled")
	}
	alerts := notification.NewDispatcher(notifiers...)
	go alerts.Run(ctx)

	// ---- Durable position store ----
	os.MkdirAll("data", 0o755)
	store, err := sqlitestore.New(sqlitestore.StoreConfig{
		DBPath:  cfg.SQLitePath,
		OnWrite: func(d time.Duration) { prom.SQLiteWriteDuration.Observe(d.Seconds()) },
	})
	if err != nil {
		log.Fatalf("[trader] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Shared store (Redis) ----
	// A failed Redis is degraded, not fatal: the tick cache runs local-only
	// and the P&L buffer retries through the breaker.
	var tickKV model.TickKV
	var pnlKV model.PnlKV
	rdb, err := redisstore.NewClient(redisstore.ClientConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Printf("[trader] WARNING: redis init failed: %v (continuing without shared store)", err)
	} else {
		tickKV = redisstore.NewTickKV(rdb)
		pnlKV = redisstore.NewPnlKV(rdb)
		defer rdb.Close()
	}

	breaker := redisstore.NewCircuitBreaker(5, 10*time.Second)
	breaker.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[trader] redis breaker %s -> %s", from, to)
		prom.RedisBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisBreakerTrips.Inc()
		}
	}

	health.StartLivenessChecker(ctx, rdb, store.DB(), 10*time.Second)

	// ---- Tick store ----
	ticks := tickstore.New(tickstore.Config{
		KV:      tickKV,
		Timeout: cfg.StoreTimeout,
		Breaker: breaker,
		OnWriteDrop: func() {
			prom.RedisDroppedWrites.Inc()
		},
		OnWriteDone: func(d time.Duration) {
			prom.RedisWriteDur.Observe(d.Seconds())
		},
	})
	ticks.Start(ctx)
	defer ticks.Close()

	// ---- Position cache, P&L buffer ----
	index := positions.NewIndex()
	cache := positions.NewCache(index)

	var buffer *pnl.Buffer
	if pnlKV != nil {
		buffer = pnl.NewBuffer(pnl.BufferConfig{
			KV:            pnlKV,
			FlushInterval: cfg.PnlFlushInterval,
			FlushBatch:    cfg.PnlFlushBatch,
			Timeout:       cfg.StoreTimeout,
			Breaker:       breaker,
			OnFlush: func(count int) {
				prom.PnlFlushTotal.Inc()
				prom.SnapshotsStaged.Set(float64(buffer.StagedCount()))
			},
			OnFlushError: func() {
				prom.PnlFlushFailures.Inc()
			},
		})
		go buffer.Run(ctx)
	} else {
		// staging-only fallback: snapshots stay in memory
		buffer = pnl.NewBuffer(pnl.BufferConfig{})
	}

	// ---- Order gateway ----
	var gw model.OrderGateway
	var sc *smartconnect.Client
	if cfg.Mode == "live" {
		sc = smartconnect.New(smartconnect.Config{
			APIKey:     cfg.AngelAPIKey,
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
		})
		if err := sc.Login(ctx); err != nil {
			log.Fatalf("[trader] broker login failed: %v", err)
		}
		gw = gateway.NewLive(sc)
	} else {
		gw = gateway.NewPaper(cfg.PaperSlippageBps)
	}

	exits := risk.NewCoordinator(cache, store, gw, buffer)
	exits.OnExit = func(pos model.PositionState, reason string, fillPrice int64) {
		prom.ExitsTotal.WithLabelValues(reason).Inc()
		prom.ActivePositions.Set(float64(cache.Len()))
		alerts.Notify(notification.ExitAlert(&pos, reason, fillPrice))
	}
	exits.OnExitError = func(trackerID string, err error) {
		prom.ExitFailures.Inc()
		alerts.Notify(notification.ExitFailureAlert(trackerID, err))
	}

	// ---- Feed watchdog ----
	watchdog := feed.NewWatchdog(cfg.FeedStaleAfter)
	if cfg.Mode == "live" {
		watchdog.Gate = markethours.IsMarketOpen
	}
	watchdog.OnStale = func(gap time.Duration) {
		alerts.Notify(notification.FeedStaleAlert(gap, cache.Len()))
	}
	watchdog.OnRecover = func(gap time.Duration) {
		log.Printf("[trader] feed recovered after %s gap", gap.Round(time.Second))
	}
	go watchdog.Run(ctx, 5*time.Second)

	eng := engine.New(engine.Config{
		Ticks:           ticks,
		Index:           index,
		Cache:           cache,
		Buffer:          buffer,
		Exits:           exits,
		Store:           store,
		Tiers:           tiers,
		PeakDrawdownPct: cfg.PeakDrawdownExitPct,
		OnTick: func() {
			prom.TicksTotal.Inc()
			now := time.Now()
			health.SetLastTickTime(now)
			watchdog.Observe(now)
		},
		OnSLTrail: func() {
			prom.SLTrailsTotal.Inc()
		},
	})

	// ---- Reconciliation sweep ----
	sweep := reconcile.New(reconcile.Config{
		Store:    store,
		Cache:    cache,
		Index:    index,
		Interval: cfg.ReconcileInterval,
		OnSweep: func(loaded, pruned int) {
			prom.SweepsTotal.Inc()
			prom.OrphansPruned.Add(float64(pruned))
			prom.ActivePositions.Set(float64(cache.Len()))
		},
	})
	// Warm the cache before the feed starts so the first tick routes.
	if loaded, _, err := sweep.Once(ctx); err != nil {
		log.Printf("[trader] WARNING: initial position load failed: %v", err)
	} else {
		log.Printf("[trader] recovered %d active positions", loaded)
		alerts.Notify(notification.RecoveryAlert(loaded))
	}
	go sweep.Run(ctx)

	// ---- Dispatch loop ----
	tickCh := make(chan model.TickUpdate, 10000)
	go eng.Run(ctx, tickCh)

	// ---- Operator API ----
	apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: api.NewRouter(eng)}
	go func() {
		log.Printf("[trader] api listening on %s", cfg.APIAddr)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[trader] api server error: %v", err)
		}
	}()

	// ---- Market data feed ----
	if cfg.Mode == "live" {
		go runLiveFeed(ctx, cfg, rule, sc, cache, tickCh, prom, health)
	} else {
		sim, err := feed.NewSim(feed.SimConfig{URL: cfg.SimFeedURL})
		if err != nil {
			log.Fatalf("[trader] sim feed init failed: %v", err)
		}
		sim.OnReconnect = func() { prom.FeedReconnect.Inc() }
		sim.OnDrop = func() { prom.DroppedTicks.Inc() }
		health.SetFeedConnected(true)
		go func() {
			if err := sim.Start(ctx, tickCh); err != nil {
				log.Printf("[trader] sim feed error: %v", err)
				health.SetFeedConnected(false)
			}
		}()
		log.Printf("[trader] paper session, tick source %s", cfg.SimFeedURL)
	}

	<-sigCh
	log.Println("[trader] shutdown signal received, cleaning up...")
	cancel()

	// let the buffer drain and the tick queue flush
	if pnlKV != nil {
		select {
		case <-buffer.Done():
		case <-time.After(5 * time.Second):
			log.Println("[trader] buffer drain timed out")
		}
	}

	select {
	case <-alerts.Done():
	case <-time.After(3 * time.Second):
		log.Println("[trader] alert drain timed out")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[trader] shutdown complete.")
}

// runLiveFeed keeps a broker feed session alive during market hours: fresh
// login at each open, disconnect at close, sleep until the next open.
func runLiveFeed(
	ctx context.Context,
	cfg *config.Config,
	rule config.IndexRule,
	sc *smartconnect.Client,
	cache *positions.Cache,
	tickCh chan<- model.TickUpdate,
	prom *metrics.Metrics,
	health *metrics.HealthStatus,
) {
	for {
		now := time.Now()
		if !markethours.IsMarketOpen(now) {
			next := markethours.NextOpen(now)
			wait := next.Sub(now)
			log.Printf("[trader] market closed, sleeping %v until %s",
				wait.Truncate(time.Second), next.In(markethours.IST).Format("Mon 15:04"))
			health.SetFeedConnected(false)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		log.Println("[trader] market open, refreshing session")
		if err := sc.Login(ctx); err != nil {
			log.Printf("[trader] login failed: %v, retrying in 30s", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
			continue
		}

		entries, err := subscriptionEntries(rule, cache)
		if err != nil {
			log.Printf("[trader] subscription build failed: %v, retrying in 30s", err)
			time.Sleep(30 * time.Second)
			continue
		}

		live, err := feed.NewLive(feed.LiveConfig{
			AuthToken:  sc.AccessToken(),
			APIKey:     cfg.AngelAPIKey,
			ClientCode: cfg.AngelClientCode,
			FeedToken:  sc.FeedToken(),
			Mode:       smartconnect.ModeSnapQuote,
			Entries:    entries,
		})
		if err != nil {
			log.Printf("[trader] feed init failed: %v, retrying in 30s", err)
			time.Sleep(30 * time.Second)
			continue
		}
		live.OnDrop = func() { prom.DroppedTicks.Inc() }
		live.OnReconnect = func() { prom.FeedReconnect.Inc() }

		// session ends at market close; a new login follows the next open
		closeTime := markethours.TodayClose(time.Now())
		feedCtx, feedCancel := context.WithDeadline(ctx, closeTime)
		health.SetFeedConnected(true)
		log.Printf("[trader] feed connected until %s",
			closeTime.In(markethours.IST).Format("15:04:05"))

		if err := live.Start(feedCtx, tickCh); err != nil {
			log.Printf("[trader] feed session ended: %v", err)
		}
		feedCancel()
		health.SetFeedConnected(false)

		if ctx.Err() != nil {
			return
		}
	}
}

// subscriptionEntries groups the index spot token and every open position's
// instrument by wire exchange code.
func subscriptionEntries(rule config.IndexRule, cache *positions.Cache) ([]smartconnect.TokenListEntry, error) {
	byCode := make(map[int][]string)

	spotCode, err := smartconnect.ExchangeCode(rule.SpotExch)
	if err != nil {
		return nil, err
	}
	byCode[spotCode] = append(byCode[spotCode], rule.SpotToken)

	for _, pos := range cache.Snapshot() {
		code, err := smartconnect.ExchangeCode(pos.Exchange)
		if err != nil {
			log.Printf("[trader] skipping %s: %v", pos.TrackerID, err)
			continue
		}
		byCode[code] = append(byCode[code], pos.Token)
	}

	entries := make([]smartconnect.TokenListEntry, 0, len(byCode))
	for code, tokens := range byCode {
		entries = append(entries, smartconnect.TokenListEntry{ExchangeType: code, Tokens: tokens})
	}
	return entries, nil
}
