package filter

import (
	"log/slog"
	"slices"
)

// ChangeFunc is invoked after a prefix list is added, replaced or deleted.
// The name is the affected list; the registry already reflects the change
// when the function runs.
type ChangeFunc func(afi AFI, name string)

type listKey struct {
	afi  AFI
	name string
}

// Registry holds every configured prefix list, indexed by address family
// and name, and notifies subscribers when a list changes.
//
// Registry is not safe for concurrent use. It is owned by the daemon's
// event loop, as is every subscriber it calls back into.
type Registry struct {
	lists       map[listKey]*PrefixList
	subscribers []ChangeFunc
	logger      *slog.Logger
}

// NewRegistry creates an empty prefix list registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		lists:  make(map[listKey]*PrefixList),
		logger: logger.With(slog.String("component", "filter.registry")),
	}
}

// Subscribe registers fn for change notifications.
func (r *Registry) Subscribe(fn ChangeFunc) {
	r.subscribers = append(r.subscribers, fn)
}

// Lookup resolves a prefix list by family and name.
func (r *Registry) Lookup(afi AFI, name string) (*PrefixList, bool) {
	pl, ok := r.lists[listKey{afi: afi, name: name}]
	return pl, ok
}

// Set adds or replaces a prefix list. Subscribers are notified only when
// the stored list actually changed.
func (r *Registry) Set(pl *PrefixList) {
	key := listKey{afi: pl.AFI(), name: pl.Name()}
	if old, ok := r.lists[key]; ok && old.Equal(pl) {
		return
	}
	r.lists[key] = pl

	r.logger.Debug("prefix list updated",
		slog.String("name", pl.Name()),
		slog.String("afi", pl.AFI().String()),
		slog.Int("rules", len(pl.rules)),
	)
	r.notify(key)
}

// Delete removes a prefix list. It reports whether the list existed.
func (r *Registry) Delete(afi AFI, name string) bool {
	key := listKey{afi: afi, name: name}
	if _, ok := r.lists[key]; !ok {
		return false
	}
	delete(r.lists, key)

	r.logger.Debug("prefix list deleted",
		slog.String("name", name),
		slog.String("afi", afi.String()),
	)
	r.notify(key)
	return true
}

// Replace makes the registry hold exactly lists. Lists that are new,
// modified or removed trigger notifications; unchanged lists do not.
// It returns the number of lists whose content changed.
func (r *Registry) Replace(lists []*PrefixList) int {
	desired := make(map[listKey]*PrefixList, len(lists))
	for _, pl := range lists {
		desired[listKey{afi: pl.AFI(), name: pl.Name()}] = pl
	}

	changed := 0
	for key := range r.lists {
		if _, keep := desired[key]; !keep {
			r.Delete(key.afi, key.name)
			changed++
		}
	}

	for _, pl := range lists {
		key := listKey{afi: pl.AFI(), name: pl.Name()}
		if old, ok := r.lists[key]; ok && old.Equal(pl) {
			continue
		}
		r.Set(pl)
		changed++
	}

	return changed
}

// Names returns the names of all lists of the given family, sorted.
func (r *Registry) Names(afi AFI) []string {
	names := make([]string, 0, len(r.lists))
	for key := range r.lists {
		if key.afi == afi {
			names = append(names, key.name)
		}
	}
	slices.Sort(names)
	return names
}

func (r *Registry) notify(key listKey) {
	for _, fn := range r.subscribers {
		fn(key.afi, key.name)
	}
}
