package world

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/event"
	"github.com/l1jgo/worldcore/internal/core/txn"
)

// AccountState is the mutable part of an account.
type AccountState struct {
	PasswordHash string
	Blocked      bool
	Access       int
}

// Account is a named singleton referenced from save files as $name.
type Account struct {
	name  string
	state *txn.Var[AccountState]
}

func (a *Account) Name() string { return a.name }
func (a *Account) State(tx *txn.Tx) AccountState { return a.state.Get(tx) }
func (a *Account) SetState(tx *txn.Tx, s AccountState) { a.state.Set(tx, s) }

// NormalizeAccountName lowercases name and rejects characters that cannot
// appear in a $name reference.
func NormalizeAccountName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", fmt.Errorf("empty account name")
	}
	for _, r := range n {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '.') {
			return "", fmt.Errorf("account name %q contains %q", name, r)
		}
	}
	return n, nil
}

// CreateAccount registers a new account with a bcrypt-hashed password.
func (w *World) CreateAccount(ctx context.Context, tx *txn.Tx, name, password string) (*Account, error) {
	n, err := NormalizeAccountName(name)
	if err != nil {
		return nil, err
	}
	if _, ok := w.accounts.Get(tx, n); ok {
		return nil, oops.In("world").With("account", n).Wrap(ErrAccountExists)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), w.cfg.PasswordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a := &Account{name: n, state: txn.NewVar(AccountState{PasswordHash: string(hash)})}
	w.accounts.Put(tx, n, a)
	event.Emit(tx, w.bus, event.AccountChanged{Name: n})
	return a, nil
}

// RestoreAccount re-creates an account read from a save file.
func (w *World) RestoreAccount(tx *txn.Tx, name string, st AccountState) (*Account, error) {
	n, err := NormalizeAccountName(name)
	if err != nil {
		return nil, err
	}
	if _, ok := w.accounts.Get(tx, n); ok {
		return nil, oops.In("world").With("account", n).Wrapf(ecs.ErrDuplicateIdentity, "account %s", n)
	}
	a := &Account{name: n, state: txn.NewVar(st)}
	w.accounts.Put(tx, n, a)
	return a, nil
}

func (w *World) Account(tx *txn.Tx, name string) (*Account, bool) {
	n, err := NormalizeAccountName(name)
	if err != nil {
		return nil, false
	}
	return w.accounts.Get(tx, n)
}

// Accounts returns every account ordered by name.
func (w *World) Accounts(tx *txn.Tx) []*Account {
	names := w.accounts.Keys(tx)
	slices.Sort(names)
	out := make([]*Account, 0, len(names))
	for _, n := range names {
		a, _ := w.accounts.Get(tx, n)
		out = append(out, a)
	}
	return out
}

// CheckPassword reports whether password opens an unblocked account.
func (w *World) CheckPassword(tx *txn.Tx, name, password string) bool {
	a, ok := w.Account(tx, name)
	if !ok {
		return false
	}
	st := a.State(tx)
	if st.Blocked {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(st.PasswordHash), []byte(password)) == nil
}

func (w *World) BlockAccount(ctx context.Context, tx *txn.Tx, actor, name string) error {
	return w.setBlocked(ctx, tx, actor, name, true)
}

func (w *World) UnblockAccount(ctx context.Context, tx *txn.Tx, actor, name string) error {
	return w.setBlocked(ctx, tx, actor, name, false)
}

func (w *World) setBlocked(ctx context.Context, tx *txn.Tx, actor, name string, blocked bool) error {
	action := "account.unblock"
	if blocked {
		action = "account.block"
	}
	if err := w.auth.Permit(ctx, actor, action, name); err != nil {
		return oops.In("world").With("actor", actor).With("action", action).
			Wrapf(ErrPermissionDenied, "%s %s: %v", action, name, err)
	}
	a, ok := w.Account(tx, name)
	if !ok {
		return oops.In("world").With("account", name).Wrap(ErrNoSuchAccount)
	}
	st := a.State(tx)
	if st.Blocked == blocked {
		return nil
	}
	st.Blocked = blocked
	a.SetState(tx, st)
	event.Emit(tx, w.bus, event.AccountChanged{Name: a.Name(), Blocked: blocked})
	return nil
}

// AssignAccount makes ch a player character of account name.
func (w *World) AssignAccount(tx *txn.Tx, ch *ecs.Entity, name string) error {
	if !ch.Def().IsCharacter() {
		return deny(ErrInvalidDestination, ch.UID(tx), "%s is not a character", ch.Def().Name)
	}
	a, ok := w.Account(tx, name)
	if !ok {
		return oops.In("world").With("account", name).Wrap(ErrNoSuchAccount)
	}
	p := ch.Props(tx).Clone()
	p.Account = a.Name()
	ch.SetProps(tx, p)
	return nil
}

// Authorizer decides whether actor may perform action on target.
type Authorizer interface {
	Permit(ctx context.Context, actor, action, target string) error
}

// AllowAll permits everything.
type AllowAll struct{}

func (AllowAll) Permit(context.Context, string, string, string) error { return nil }

// AccessAuthorizer permits actors whose account access level reaches Min.
// It reads the account through the transaction carried by ctx.
type AccessAuthorizer struct {
	World *World
	Min   int
}

func (a AccessAuthorizer) Permit(ctx context.Context, actor, action, target string) error {
	tx := txn.FromContext(ctx)
	if tx == nil {
		return fmt.Errorf("%s: no transaction in context", action)
	}
	acc, ok := a.World.Account(tx, actor)
	if !ok {
		return fmt.Errorf("unknown actor %q", actor)
	}
	if lvl := acc.State(tx).Access; lvl < a.Min {
		return fmt.Errorf("access level %d below %d", lvl, a.Min)
	}
	return nil
}
