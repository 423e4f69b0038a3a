package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/txn"
)

// Field names of entity and account sections.
const (
	fieldPos      = "p"
	fieldCont     = "cont"
	fieldLayer    = "layer"
	fieldAmount   = "amount"
	fieldColor    = "color"
	fieldName     = "name"
	fieldAccount  = "account"
	tagPrefix     = "tag."
	fieldPassword = "password"
	fieldBlocked  = "blocked"
	fieldAccess   = "access"
)

type SaveResult struct {
	Generation uuid.UUID
	Entities   int
	Accounts   int
	Files      []string
	Backups    []string
	Duration   time.Duration
}

// SaveAll snapshots the world with every other transaction held off, then
// writes accounts.sav and world.sav outside the gate. Existing files are
// backed up first when backups are configured.
func (c *Coordinator) SaveAll(ctx context.Context) (*SaveResult, error) {
	c.saving.Lock()
	defer c.saving.Unlock()
	return c.save(ctx)
}

// TrySave is SaveAll unless another save is running, in which case it
// returns ok=false without waiting.
func (c *Coordinator) TrySave(ctx context.Context) (res *SaveResult, ok bool, err error) {
	if !c.saving.TryLock() {
		return nil, false, nil
	}
	defer c.saving.Unlock()
	res, err = c.save(ctx)
	return res, true, err
}

func (c *Coordinator) save(ctx context.Context) (res *SaveResult, err error) {
	start := time.Now()
	res = &SaveResult{Generation: uuid.New()}
	defer func() {
		res.Duration = time.Since(start)
		if c.obs != nil {
			c.obs.ObserveSave(res.Duration, res.Entities, err)
		}
	}()

	var accounts, world bytes.Buffer
	err = c.w.Exclusive(ctx, func(ctx context.Context, tx *txn.Tx) error {
		accounts.Reset()
		world.Reset()
		c.w.Purge(tx)
		var err error
		if res.Accounts, err = c.writeAccounts(tx, &accounts); err != nil {
			return err
		}
		res.Entities, err = c.writeWorld(tx, &world)
		return err
	})
	if err != nil {
		return res, err
	}

	for _, f := range []struct {
		name string
		data []byte
	}{{AccountsFile, accounts.Bytes()}, {WorldFile, world.Bytes()}} {
		path := filepath.Join(c.dir, f.name)
		if c.backups != nil {
			b, err := c.backups.Archive(path, res.Generation, start)
			if err != nil {
				return res, fmt.Errorf("back up %s: %w", path, err)
			}
			if b != "" {
				res.Backups = append(res.Backups, b)
			}
		}
		if err := writeAtomic(path, f.data, c.enc); err != nil {
			return res, err
		}
		res.Files = append(res.Files, path)
	}

	if c.journal != nil {
		rec := SaveRecord{
			Generation: res.Generation,
			StartedAt:  start,
			Duration:   time.Since(start),
			Entities:   res.Entities,
			Accounts:   res.Accounts,
			Files:      res.Files,
		}
		if err := c.journal.RecordSave(ctx, rec); err != nil {
			// the files are on disk; a catalog outage must not fail the save
			c.log.Warn("save catalog write failed", zap.String("generation", res.Generation.String()), zap.Error(err))
		}
	}
	c.log.Info("world saved",
		zap.String("generation", res.Generation.String()),
		zap.Int("entities", res.Entities),
		zap.Int("accounts", res.Accounts),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

func (c *Coordinator) writeAccounts(tx *txn.Tx, out io.Writer) (int, error) {
	w := NewWriter(out)
	w.Comment("worldcore accounts")
	accs := c.w.Accounts(tx)
	for _, a := range accs {
		st := a.State(tx)
		w.Section(accountSection, a.Name())
		w.Field(fieldPassword, Quote(st.PasswordHash))
		if st.Blocked {
			w.Field(fieldBlocked, "1")
		}
		if st.Access != 0 {
			w.Field(fieldAccess, fmt.Sprint(st.Access))
		}
	}
	return len(accs), w.Flush()
}

type topLevel struct {
	e *ecs.Entity
	o ecs.Owner
}

// snapshot writes entity sections depth first. written guards against an
// entity reachable twice.
type snapshot struct {
	c       *Coordinator
	tx      *txn.Tx
	w       *Writer
	written map[ecs.UID]bool
}

// writeWorld writes every ground entity in uid order, each followed by its
// contents in list order. Dragged items are written as lying on the ground
// under their holder.
func (c *Coordinator) writeWorld(tx *txn.Tx, out io.Writer) (int, error) {
	var tops []topLevel
	for _, p := range c.w.GroundPoints(tx) {
		ms, err := c.w.GroundAt(tx, p)
		if err != nil {
			return 0, err
		}
		for _, m := range ms {
			tops = append(tops, topLevel{e: m, o: ecs.OnGround(p)})
		}
	}
	for _, uid := range c.w.Registry().Live(tx) {
		e, _ := c.w.Lookup(tx, uid)
		if e.Owner(tx).Kind != ecs.OwnerDragging {
			continue
		}
		_, p, onGround, err := c.w.TopLevel(tx, e)
		if err != nil {
			return 0, err
		}
		if !onGround {
			p = c.w.Config().StartPoint
		}
		tops = append(tops, topLevel{e: e, o: ecs.OnGround(p)})
	}
	sort.Slice(tops, func(i, j int) bool { return tops[i].e.UID(tx) < tops[j].e.UID(tx) })

	s := &snapshot{c: c, tx: tx, w: NewWriter(out), written: make(map[ecs.UID]bool)}
	s.w.Comment("worldcore world")
	for _, t := range tops {
		if err := s.entity(t.e, t.o); err != nil {
			return 0, err
		}
	}
	if n := c.w.Registry().Count(tx); n != len(s.written) {
		return 0, txn.Invariant("saved %d of %d live entities", len(s.written), n)
	}
	return len(s.written), s.w.Flush()
}

func (s *snapshot) entity(e *ecs.Entity, o ecs.Owner) error {
	tx := s.tx
	uid := e.UID(tx)
	if s.written[uid] {
		return nil
	}
	s.written[uid] = true

	def := e.Def()
	p := e.Props(tx)
	w := s.w
	w.Section(def.Name, uid.String())
	switch o.Kind {
	case ecs.OwnerGround:
		w.Field(fieldPos, o.Point.String())
	case ecs.OwnerContainer:
		w.Field(fieldCont, o.Parent.String())
	case ecs.OwnerEquipped:
		w.Field(fieldCont, o.Parent.String())
		w.Field(fieldLayer, o.Layer.String())
	}
	if p.Amount != 1 {
		w.Field(fieldAmount, fmt.Sprint(p.Amount))
	}
	if p.Color != def.Color {
		w.Field(fieldColor, fmt.Sprintf("%#x", p.Color))
	}
	if p.Name != "" {
		w.Field(fieldName, Quote(p.Name))
	}
	if p.Account != "" {
		w.Field(fieldAccount, NamedToken(p.Account))
	}
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := p.Fields[k]
		if !s.live(v) {
			// tags may outlive what they point at; a dangling token would fail the load
			continue
		}
		w.Field(tagPrefix+k, EncodeValue(v))
	}

	kids, err := s.c.w.ContentsOf(tx, e)
	if err != nil {
		return err
	}
	for _, k := range kids {
		ko := k.Owner(tx)
		if ko.Kind == ecs.OwnerDragging {
			continue
		}
		if err := s.entity(k, ko); err != nil {
			return err
		}
	}
	return nil
}

func (s *snapshot) live(v ecs.Value) bool {
	switch v.Kind {
	case ecs.ValueRef:
		_, ok := s.c.w.Lookup(s.tx, v.Ref)
		return ok
	case ecs.ValueNamed:
		_, ok := s.c.w.Account(s.tx, v.Str)
		return ok
	}
	return true
}
