package scripting

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/data"
	"github.com/l1jgo/worldcore/internal/trigger"
)

// Engine wraps a gopher-lua VM holding trigger handlers. Triggers fire from
// any goroutine, so every VM access goes through mu.
type Engine struct {
	dir string
	log *zap.Logger

	mu       sync.Mutex
	vm       *lua.LState
	handlers map[string]*handler
}

// NewEngine creates a Lua engine and loads every *.lua file under dir.
// A missing dir yields an empty engine.
func NewEngine(dir string, log *zap.Logger) (*Engine, error) {
	e := &Engine{dir: dir, log: log, handlers: make(map[string]*handler)}
	vm, err := e.build()
	if err != nil {
		return nil, err
	}
	e.vm = vm
	return e, nil
}

func (e *Engine) build() (*lua.LState, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("triggers", vm.NewTable())
	vm.SetGlobal("log", vm.NewFunction(e.luaLog))
	if err := e.loadDir(vm, e.dir); err != nil {
		vm.Close()
		return nil, err
	}
	return vm, nil
}

// loadDir runs every .lua file under dir in lexical path order.
func (e *Engine) loadDir(vm *lua.LState, dir string) error {
	if dir == "" {
		return nil
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return fs.SkipDir
			}
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".lua" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, path := range files {
		if err := vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Reload builds a fresh VM from the scripts dir and swaps it in. On error
// the running VM is kept.
func (e *Engine) Reload() error {
	vm, err := e.build()
	if err != nil {
		return err
	}
	e.mu.Lock()
	old := e.vm
	e.vm = vm
	e.mu.Unlock()
	old.Close()
	e.log.Info("lua scripts reloaded", zap.String("dir", e.dir))
	return nil
}

// Close releases the VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}

// Handler returns the trigger handler backed by triggers.<name>. The same
// name always yields the same handler, so it can be detached later. The
// table is looked up on every run, which lets reloads replace it.
func (e *Engine) Handler(name string) trigger.Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handlers[name]
	if !ok {
		h = &handler{e: e, name: name}
		e.handlers[name] = h
	}
	return h
}

// DefinitionHandler binds a definition's script field.
func (e *Engine) DefinitionHandler(def *data.Definition) (trigger.Handler, bool) {
	if def == nil || def.Script == "" {
		return nil, false
	}
	return e.Handler(def.Script), true
}

// Defined reports whether the scripts define triggers.<name>.
func (e *Engine) Defined(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.lookup(name).(*lua.LTable)
	return ok
}

func (e *Engine) lookup(name string) lua.LValue {
	root, ok := e.vm.GetGlobal("triggers").(*lua.LTable)
	if !ok {
		return lua.LNil
	}
	return root.RawGetString(name)
}

func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("lua", zap.String("msg", L.CheckString(1)))
	return 0
}

// Watch reloads the scripts whenever a .lua file under dir changes, until
// ctx is done.
func (e *Engine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("script watcher: %w", err)
	}
	err = filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", e.dir, err)
	}
	e.log.Info("watching lua scripts", zap.String("dir", e.dir))

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".lua" || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := e.Reload(); err != nil {
					e.log.Error("lua reload failed, keeping previous scripts",
						zap.String("file", ev.Name), zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.log.Warn("lua watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
