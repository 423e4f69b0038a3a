// savetool inspects and maintains worldcore save files offline.
//
// Usage:
//
//	go run ./cmd/savetool <command> [-config path] [files...]
//
// Commands:
//
//	check    load the save files and report invariant violations
//	reindex  load, compact uids to 1..n and write the files back
//	backups  list the backups of accounts.sav and world.sav
//	latest   show the newest save generation recorded in the catalog
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/config"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
	"github.com/l1jgo/worldcore/internal/persist"
	"github.com/l1jgo/worldcore/internal/world"
)

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: savetool <check|reindex|backups|latest> [-config path] [-v] [files...]")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "config/worldcore.toml", "server config file")
	verbose := fs.Bool("v", false, "log every skipped record")
	_ = fs.Parse(os.Args[2:])

	commands := map[string]func(*tool, []string) error{
		"check":   (*tool).check,
		"reindex": (*tool).reindex,
		"backups": (*tool).backups,
		"latest":  (*tool).latest,
	}
	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		printUsage()
		os.Exit(1)
	}

	t, err := newTool(*cfgPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	defer t.log.Sync()
	if err := fn(t, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR [%s]: %v\n", cmd, err)
		os.Exit(1)
	}
}

type tool struct {
	cfg   *config.Config
	log   *zap.Logger
	w     *world.World
	coord *persist.Coordinator
}

func newTool(cfgPath string, verbose bool) (*tool, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log := zap.NewNop()
	if verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}
	defs, err := data.LoadDefinitions(cfg.Data.Definitions, cfg.World.DefaultMaxAmount)
	if err != nil {
		return nil, err
	}
	wcfg, err := world.ConfigFrom(cfg.World)
	if err != nil {
		return nil, err
	}
	// scripts stay unloaded: offline tools must not run game logic
	w := world.New(world.Options{Config: wcfg, Definitions: defs, Logger: log})
	coord, err := persist.NewCoordinator(w, persist.Options{Save: cfg.Save, Logger: log})
	if err != nil {
		return nil, err
	}
	return &tool{cfg: cfg, log: log, w: w, coord: coord}, nil
}

func (t *tool) load(files []string) (*persist.LoadResult, error) {
	res, err := t.coord.LoadAll(context.Background(), files...)
	if err != nil {
		return nil, err
	}
	fmt.Printf("loaded %d accounts and %d entities from %d files\n", res.Accounts, res.Entities, len(res.Files))
	if res.Skipped+res.Dropped+res.Relocated > 0 {
		fmt.Printf("  skipped records: %d, dropped entities: %d, relocated characters: %d\n", res.Skipped, res.Dropped, res.Relocated)
	}
	for _, cat := range []data.Category{data.CategoryItem, data.CategoryContainer, data.CategoryCharacter} {
		fmt.Printf("  %-10s %d\n", cat, res.ByCategory[cat])
	}
	return res, nil
}

// check loads the files; a load commits only after the invariant checker
// passed, so success means the graph is sound.
func (t *tool) check(files []string) error {
	if _, err := t.load(files); err != nil {
		return err
	}
	var problems []error
	err := t.w.Exclusive(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		problems = t.w.Check(tx)
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range problems {
		fmt.Println("  ", p)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d invariant violations", len(problems))
	}
	fmt.Println("OK")
	return nil
}

func (t *tool) reindex(files []string) error {
	if _, err := t.load(files); err != nil {
		return err
	}
	remap, err := t.w.Reindex(context.Background())
	if err != nil {
		return err
	}
	moved := 0
	for from, to := range remap {
		if from != to {
			moved++
		}
	}
	res, err := t.coord.SaveAll(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("renumbered %d of %d entities, saved generation %s\n", moved, len(remap), res.Generation)
	return nil
}

func (t *tool) backups([]string) error {
	b := t.coord.Backups()
	if b == nil {
		return fmt.Errorf("backups are disabled (save.backup_dir is empty)")
	}
	for _, name := range []string{persist.AccountsFile, persist.WorldFile} {
		base := name[:len(name)-len(filepath.Ext(name))]
		list, err := b.List(base)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d backups\n", name, len(list))
		for _, f := range list {
			fmt.Println("  ", f)
		}
	}
	return nil
}

func (t *tool) latest([]string) error {
	if t.cfg.Database.DSN == "" {
		return fmt.Errorf("no save catalog configured (database.dsn is empty)")
	}
	ctx := context.Background()
	catalog, db, err := persist.OpenCatalog(ctx, t.cfg.Database, t.log)
	if err != nil {
		return err
	}
	defer db.Close()
	rec, ok, err := catalog.LatestSave(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no saves recorded")
		return nil
	}
	fmt.Printf("generation %s\n  started  %s\n  took     %s\n  entities %d\n  accounts %d\n",
		rec.Generation, rec.StartedAt.Format("2006-01-02 15:04:05"), rec.Duration, rec.Entities, rec.Accounts)
	for _, f := range rec.Files {
		fmt.Println("  file    ", f)
	}
	return nil
}
