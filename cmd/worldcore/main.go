package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/worldcore/internal/config"
	coresys "github.com/l1jgo/worldcore/internal/core/system"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
	"github.com/l1jgo/worldcore/internal/metrics"
	"github.com/l1jgo/worldcore/internal/persist"
	"github.com/l1jgo/worldcore/internal/scripting"
	"github.com/l1jgo/worldcore/internal/trigger"
	"github.com/l1jgo/worldcore/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             worldcore  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     transactional persistent world        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(id: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/worldcore.toml"
	if p := os.Getenv("WORLDCORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Metrics
	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, log); err != nil {
				log.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	// 4. Optional save catalog in PostgreSQL
	var journal persist.Journal
	if cfg.Database.DSN != "" {
		printSection("save catalog")
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		catalog, db, err := persist.OpenCatalog(dbCtx, cfg.Database, log)
		cancel()
		if err != nil {
			return fmt.Errorf("save catalog: %w", err)
		}
		defer db.Close()
		journal = catalog
		printOK("PostgreSQL connected, migrations applied")
		fmt.Println()
	}

	// 5. Definitions and scripts
	printSection("data")
	defs, err := data.LoadDefinitions(cfg.Data.Definitions, cfg.World.DefaultMaxAmount)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	printStat("definitions", defs.Count())

	var scripts trigger.DefinitionHandlers
	if cfg.Scripting.Dir != "" {
		engine, err := scripting.NewEngine(cfg.Scripting.Dir, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer engine.Close()
		scripts = engine
		if cfg.Scripting.HotReload {
			if err := engine.Watch(ctx); err != nil {
				log.Warn("script hot reload disabled", zap.Error(err))
			}
		}
		printOK("lua scripts loaded")
	}
	fmt.Println()

	// 6. World and persistence
	wcfg, err := world.ConfigFrom(cfg.World)
	if err != nil {
		return err
	}
	w := world.New(world.Options{
		Config:      wcfg,
		Definitions: defs,
		Scripts:     scripts,
		Txn:         txn.NewManager(txn.Options{MaxRetries: cfg.Txn.MaxRetries, Logger: log, Observer: m}),
		Logger:      log,
	})
	coord, err := persist.NewCoordinator(w, persist.Options{
		Save:     cfg.Save,
		Journal:  journal,
		Observer: m,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	printSection("world")
	res, err := coord.LoadAll(ctx)
	if err != nil {
		if txn.IsFatal(err) {
			return fmt.Errorf("world load aborted: %w", err)
		}
		return fmt.Errorf("load world: %w", err)
	}
	printStat("accounts", res.Accounts)
	printStat("entities", res.Entities)
	printStat("characters", res.ByCategory[data.CategoryCharacter])
	printStat("containers", res.ByCategory[data.CategoryContainer])
	if res.Skipped+res.Dropped+res.Relocated > 0 {
		printStat("skipped records", res.Skipped)
		printStat("dropped entities", res.Dropped)
		printStat("relocated characters", res.Relocated)
	}
	fmt.Println()

	// 7. Systems
	runner := coresys.NewRunner()
	runner.Register(persist.NewAutosaveSystem(coord, cfg.AutosaveTicks()))
	runner.Register(world.NewPurgeSystem(w, ticksOf(time.Minute, cfg.Tick.Rate)))
	runner.Register(metrics.NewGaugeSystem(m, w, log, ticksOf(10*time.Second, cfg.Tick.Rate)))

	printSection("ready")
	printReady(fmt.Sprintf("tick loop running (tick: %s)", cfg.Tick.Rate))
	if cfg.Metrics.Listen != "" {
		printReady(fmt.Sprintf("metrics on %s/metrics", cfg.Metrics.Listen))
	}
	fmt.Println()

	runner.Run(ctx, cfg.Tick.Rate)

	// 8. Final save
	log.Info("shutting down, saving world")
	saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if _, err := coord.SaveAll(saveCtx); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func ticksOf(d, rate time.Duration) int {
	if rate <= 0 {
		return 1
	}
	n := int(d / rate)
	if n < 1 {
		n = 1
	}
	return n
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
