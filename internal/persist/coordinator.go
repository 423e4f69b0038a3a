package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"github.com/l1jgo/worldcore/internal/config"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/world"
)

const (
	AccountsFile = "accounts.sav"
	WorldFile    = "world.sav"

	accountSection = "Account"
)

// Observer receives save and load measurements.
type Observer interface {
	ObserveSave(d time.Duration, entities int, err error)
	ObserveLoad(d time.Duration, entities int)
}

// LoadedHook runs once per load pass after every reference has been
// resolved and every entity placed. An error aborts the load.
type LoadedHook func(ctx context.Context, tx *txn.Tx, res *LoadResult) error

type Options struct {
	Save     config.SaveConfig
	Journal  Journal
	Observer Observer
	Logger   *zap.Logger
}

// Coordinator writes the world to text save files and rebuilds it from
// them. Saves are serialized; both directions run with the world quiesced.
type Coordinator struct {
	w       *world.World
	dir     string
	enc     encoding.Encoding
	backups *Backups
	journal Journal
	obs     Observer
	log     *zap.Logger

	saving sync.Mutex
	hooks  []LoadedHook
}

func NewCoordinator(w *world.World, opts Options) (*Coordinator, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	enc, err := Charset(opts.Save.Encoding)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		w:       w,
		dir:     opts.Save.Dir,
		enc:     enc,
		journal: opts.Journal,
		obs:     opts.Observer,
		log:     log,
	}
	if opts.Save.BackupDir != "" {
		c.backups = NewBackups(opts.Save.BackupDir, opts.Save.BackupsKeep, log)
	}
	c.hooks = []LoadedHook{c.countCategories, c.validate}
	return c, nil
}

// OnLoaded appends a hook run at the end of every load pass.
func (c *Coordinator) OnLoaded(h LoadedHook) {
	c.hooks = append(c.hooks, h)
}

// Backups returns the backup store, nil when backups are off.
func (c *Coordinator) Backups() *Backups { return c.backups }

// Dir is where save files live.
func (c *Coordinator) Dir() string { return c.dir }
