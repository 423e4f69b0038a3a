package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/txn"
	"github.com/l1jgo/worldcore/internal/data"
	"github.com/l1jgo/worldcore/internal/trigger"
	"github.com/l1jgo/worldcore/internal/world"
)

type LoadResult struct {
	Files     []string
	Entities  int
	Accounts  int
	Resolved  int // deferred references resolved
	Skipped   int // records dropped for format errors
	Dropped   int // entities deleted because they had nowhere to go
	Relocated int // player characters moved to the start point

	ByCategory map[data.Category]int
	Duration   time.Duration
}

// LoadAll rebuilds the world from save files in one exclusive transaction.
// With no arguments it reads accounts.sav and world.sav from the save dir,
// skipping any that do not exist. Malformed records are logged and skipped;
// an unresolved reference or a duplicate identity aborts the whole load and
// leaves the world untouched.
func (c *Coordinator) LoadAll(ctx context.Context, files ...string) (*LoadResult, error) {
	start := time.Now()
	if len(files) == 0 {
		for _, name := range []string{AccountsFile, WorldFile} {
			path := filepath.Join(c.dir, name)
			if _, err := os.Stat(path); err == nil {
				files = append(files, path)
			} else if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	texts := make([][]byte, len(files))
	for i, f := range files {
		b, err := readFile(f, c.enc)
		if err != nil {
			return nil, err
		}
		texts[i] = b
	}

	var res *LoadResult
	err := c.w.Exclusive(ctx, func(ctx context.Context, tx *txn.Tx) error {
		l := &loader{c: c, tx: tx, res: &LoadResult{Files: files}}
		res = l.res
		for i, f := range files {
			if err := l.file(f, bytes.NewReader(texts[i])); err != nil {
				return err
			}
		}
		n, err := l.deferred.ResolveAll(tx)
		l.res.Resolved = n
		if err != nil {
			return err
		}
		if err := l.place(ctx); err != nil {
			return err
		}
		for _, le := range l.entities {
			if le.e.Deleted(tx) {
				continue
			}
			if err := c.w.Triggers().Fire(ctx, tx, trigger.Loaded, &trigger.Args{Self: le.e}); err != nil {
				return err
			}
		}
		for _, h := range c.hooks {
			if err := h(ctx, tx, l.res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	if c.obs != nil {
		c.obs.ObserveLoad(res.Duration, res.Entities)
	}
	c.log.Info("world loaded",
		zap.Strings("files", files),
		zap.Int("entities", res.Entities),
		zap.Int("accounts", res.Accounts),
		zap.Int("references", res.Resolved),
		zap.Int("skipped", res.Skipped),
		zap.Int("dropped", res.Dropped),
		zap.Int("relocated", res.Relocated),
		zap.Duration("took", res.Duration))
	return res, nil
}

// loadedEntity remembers where a restored entity should be linked once every
// uid of the batch exists.
type loadedEntity struct {
	e    *ecs.Entity
	file string
	line int

	to       ecs.Owner
	placed   bool // to was set by p or cont
	layer    data.Layer
	hasLayer bool
}

type loader struct {
	c        *Coordinator
	tx       *txn.Tx
	res      *LoadResult
	deferred Deferred
	entities []*loadedEntity
}

func (l *loader) warn(err error) {
	l.res.Skipped++
	l.c.log.Warn("skipped save record", zap.Error(err))
}

func (l *loader) file(name string, r io.Reader) error {
	rd := NewReader(r, name)
	for {
		s, err := rd.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if errors.Is(err, ErrFormat) {
				l.warn(err)
				continue
			}
			return fmt.Errorf("read %s: %w", name, err)
		}
		if s.Type == accountSection {
			err = l.account(s)
		} else {
			err = l.entity(s)
		}
		if err != nil {
			if txn.IsFatal(err) {
				return err
			}
			l.warn(err)
		}
	}
}

func formatErr(file string, line int, format string, args ...any) error {
	return &FormatError{File: file, Line: line, Msg: fmt.Sprintf(format, args...)}
}

func (l *loader) account(s Section) error {
	var st world.AccountState
	for _, f := range s.Fields {
		switch f.Name {
		case fieldPassword:
			v, err := Unquote(f.Value)
			if err != nil {
				return formatErr(s.File, f.Line, "%v", err)
			}
			st.PasswordHash = v
		case fieldBlocked:
			n, err := ParseInt(f.Value)
			if err != nil {
				return formatErr(s.File, f.Line, "%v", err)
			}
			st.Blocked = n != 0
		case fieldAccess:
			n, err := ParseInt(f.Value)
			if err != nil {
				return formatErr(s.File, f.Line, "%v", err)
			}
			st.Access = int(n)
		default:
			l.warn(formatErr(s.File, f.Line, "unknown account field %q", f.Name))
		}
	}
	if _, err := l.c.w.RestoreAccount(l.tx, s.ID, st); err != nil {
		if txn.IsFatal(err) {
			return oops.In("persist").With("file", s.File).With("line", s.Line).Wrapf(err, "%s:%d", s.File, s.Line)
		}
		return formatErr(s.File, s.Line, "account %q: %v", s.ID, err)
	}
	l.res.Accounts++
	return nil
}

func (l *loader) entity(s Section) error {
	def, ok := l.c.w.Definitions().Get(s.Type)
	if !ok {
		return formatErr(s.File, s.Line, "unknown definition %q", s.Type)
	}
	uid, err := ecs.ParseUID(s.ID)
	if err != nil {
		return formatErr(s.File, s.Line, "%v", err)
	}

	e := ecs.NewEntity(def)
	le := &loadedEntity{e: e, file: s.File, line: s.Line}
	p := e.Props(l.tx).Clone()
	var refs []DeferredReference
	for _, f := range s.Fields {
		ref, err := l.field(le, &p, f)
		if err != nil {
			// a bad field costs only the field
			l.warn(err)
			continue
		}
		if ref != nil {
			refs = append(refs, *ref)
		}
	}

	if err := l.c.w.Registry().RegisterAs(l.tx, e, uid); err != nil {
		if txn.IsFatal(err) {
			return oops.In("persist").With("file", s.File).With("line", s.Line).Wrapf(err, "%s:%d", s.File, s.Line)
		}
		return formatErr(s.File, s.Line, "%v", err)
	}
	e.SetProps(l.tx, p)
	for _, r := range refs {
		l.deferred.Add(r)
	}
	l.entities = append(l.entities, le)
	l.res.Entities++
	return nil
}

// field applies one entity field to p. References come back as deferred
// work; their callbacks write straight to the entity.
func (l *loader) field(le *loadedEntity, p *ecs.Props, f Field) (*DeferredReference, error) {
	file := le.file
	bad := func(err error) error { return formatErr(file, f.Line, "%s: %v", f.Name, err) }
	switch {
	case f.Name == fieldPos:
		pt, err := ecs.ParsePoint(f.Value)
		if err != nil {
			return nil, bad(err)
		}
		le.to, le.placed = ecs.OnGround(pt), true
	case f.Name == fieldCont:
		parent, err := ecs.ParseUID(f.Value)
		if err != nil {
			return nil, bad(err)
		}
		return &DeferredReference{Token: f.Value, File: file, Line: f.Line, Resolve: func(tx *txn.Tx) bool {
			if _, ok := l.c.w.Lookup(tx, parent); !ok {
				return false
			}
			if le.hasLayer {
				le.to = ecs.EquippedOn(parent, le.layer)
			} else {
				le.to = ecs.InContainer(parent)
			}
			le.placed = true
			return true
		}}, nil
	case f.Name == fieldLayer:
		layer, err := data.ParseLayer(f.Value)
		if err != nil {
			return nil, bad(err)
		}
		le.layer, le.hasLayer = layer, true
	case f.Name == fieldAmount:
		n, err := ParseInt(f.Value)
		if err != nil {
			return nil, bad(err)
		}
		if n < 1 {
			return nil, bad(fmt.Errorf("amount %d", n))
		}
		p.Amount = int(n)
	case f.Name == fieldColor:
		n, err := ParseInt(f.Value)
		if err != nil {
			return nil, bad(err)
		}
		p.Color = int(n)
	case f.Name == fieldName:
		s, err := Unquote(f.Value)
		if err != nil {
			return nil, bad(err)
		}
		p.Name = s
	case f.Name == fieldAccount:
		name, err := ParseNamed(f.Value)
		if err != nil {
			return nil, bad(err)
		}
		e := le.e
		return &DeferredReference{Token: f.Value, File: file, Line: f.Line, Resolve: func(tx *txn.Tx) bool {
			a, ok := l.c.w.Account(tx, name)
			if !ok {
				return false
			}
			np := e.Props(tx).Clone()
			np.Account = a.Name()
			e.SetProps(tx, np)
			return true
		}}, nil
	case strings.HasPrefix(f.Name, tagPrefix) && len(f.Name) > len(tagPrefix):
		return l.tag(le, p, f)
	default:
		return nil, formatErr(file, f.Line, "unknown field %q", f.Name)
	}
	return nil, nil
}

func (l *loader) tag(le *loadedEntity, p *ecs.Props, f Field) (*DeferredReference, error) {
	key := f.Name[len(tagPrefix):]
	v, ok, err := DecodeValue(f.Value)
	if err != nil {
		return nil, formatErr(le.file, f.Line, "%s: %v", f.Name, err)
	}
	if ok {
		*p = p.WithField(key, v)
		return nil, nil
	}

	var resolve func(tx *txn.Tx) (ecs.Value, bool)
	if IsRef(f.Value) {
		uid, err := ecs.ParseUID(f.Value)
		if err != nil {
			return nil, formatErr(le.file, f.Line, "%s: %v", f.Name, err)
		}
		resolve = func(tx *txn.Tx) (ecs.Value, bool) {
			_, ok := l.c.w.Lookup(tx, uid)
			return ecs.RefValue(uid), ok
		}
	} else {
		name, err := ParseNamed(f.Value)
		if err != nil {
			return nil, formatErr(le.file, f.Line, "%s: %v", f.Name, err)
		}
		resolve = func(tx *txn.Tx) (ecs.Value, bool) {
			a, ok := l.c.w.Account(tx, name)
			if !ok {
				return ecs.Value{}, false
			}
			return ecs.NamedValue(a.Name()), true
		}
	}
	e := le.e
	return &DeferredReference{Token: f.Value, File: le.file, Line: f.Line, Resolve: func(tx *txn.Tx) bool {
		v, ok := resolve(tx)
		if !ok {
			return false
		}
		e.SetProps(tx, e.Props(tx).WithField(key, v))
		return true
	}}, nil
}

// place links every restored entity in file order, then deals with what
// could not be linked: player characters go to the start point, anything
// else is deleted together with its contents.
func (l *loader) place(ctx context.Context) error {
	w := l.c.w
	var homeless []*loadedEntity
	for _, le := range l.entities {
		if !le.placed {
			homeless = append(homeless, le)
			continue
		}
		if err := w.Restore(l.tx, le.e, le.to); err != nil {
			if !world.IsDenied(err) {
				return err
			}
			l.c.log.Warn("cannot restore entity where it was saved",
				zap.Int64("uid", int64(le.e.UID(l.tx))),
				zap.String("file", le.file), zap.Int("line", le.line),
				zap.String("to", le.to.String()), zap.Error(err))
			homeless = append(homeless, le)
		}
	}

	start := w.Config().StartPoint
	for _, le := range homeless {
		e := le.e
		if e.Deleted(l.tx) || e.Owner(l.tx).Kind != ecs.OwnerLimbo {
			continue
		}
		uid := e.UID(l.tx)
		if e.Props(l.tx).IsPlayer() {
			if err := w.Restore(l.tx, e, ecs.OnGround(start)); err != nil {
				return err
			}
			l.res.Relocated++
			l.c.log.Info("player character relocated to start point",
				zap.Int64("uid", int64(uid)), zap.String("point", start.String()))
			continue
		}
		n := 1 + l.countContents(e)
		if err := w.Delete(ctx, l.tx, e); err != nil {
			return err
		}
		l.res.Dropped += n
		l.res.Entities -= n
		l.c.log.Warn("dropped entity without a location",
			zap.Int64("uid", int64(uid)), zap.String("def", e.Def().Name),
			zap.String("file", le.file), zap.Int("line", le.line))
	}
	return nil
}

func (l *loader) countContents(e *ecs.Entity) int {
	kids, err := l.c.w.ContentsOf(l.tx, e)
	if err != nil {
		return 0
	}
	n := len(kids)
	for _, k := range kids {
		n += l.countContents(k)
	}
	return n
}

func (c *Coordinator) countCategories(_ context.Context, tx *txn.Tx, res *LoadResult) error {
	res.ByCategory = make(map[data.Category]int)
	for _, uid := range c.w.Registry().Live(tx) {
		if e, ok := c.w.Lookup(tx, uid); ok {
			res.ByCategory[e.Def().Category]++
		}
	}
	return nil
}

// validate refuses to commit a loaded graph that breaks a structural
// invariant.
func (c *Coordinator) validate(_ context.Context, tx *txn.Tx, _ *LoadResult) error {
	errs := c.w.Check(tx)
	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs {
		c.log.Error("loaded world is inconsistent", zap.Error(err))
	}
	return txn.Invariant("loaded world failed %d checks: %v", len(errs), errors.Join(errs...))
}
