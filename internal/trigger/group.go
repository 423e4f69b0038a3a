package trigger

import "slices"

// Group is an ordered handler list. Values are never mutated in place;
// every change builds a new Group so readers of an older version are safe.
type Group struct {
	handlers []Handler
	plugins  map[string]Plugin
}

func (g Group) Len() int { return len(g.handlers) }

func (g Group) Handlers() []Handler { return slices.Clone(g.handlers) }

func (g Group) has(h Handler) bool {
	return slices.Contains(g.handlers, h)
}

// prepend puts h in front so the most recently attached handler runs first.
func (g Group) prepend(h Handler) Group {
	hs := make([]Handler, 0, len(g.handlers)+1)
	hs = append(hs, h)
	hs = append(hs, g.handlers...)
	return Group{handlers: hs, plugins: g.plugins}
}

func (g Group) without(h Handler) Group {
	i := slices.Index(g.handlers, h)
	if i < 0 {
		return g
	}
	hs := slices.Delete(slices.Clone(g.handlers), i, i+1)
	out := Group{handlers: hs, plugins: g.plugins}
	if p, ok := h.(Plugin); ok && g.plugins[p.PluginKey()] == p {
		out.plugins = make(map[string]Plugin, len(g.plugins))
		for k, v := range g.plugins {
			if k != p.PluginKey() {
				out.plugins[k] = v
			}
		}
	}
	return out
}

func (g Group) withPlugin(p Plugin) Group {
	out := g.prepend(p)
	out.plugins = make(map[string]Plugin, len(g.plugins)+1)
	for k, v := range g.plugins {
		out.plugins[k] = v
	}
	out.plugins[p.PluginKey()] = p
	return out
}
