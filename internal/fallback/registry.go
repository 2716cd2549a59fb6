package fallback

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/provider"
)

// Descriptor is a registered provider and its default position.
type Descriptor struct {
	Name            string            `json:"name" yaml:"name"`
	SourceType      model.SourceType  `json:"source_type" yaml:"source_type"`
	Provider        provider.Provider `json:"-" yaml:"-"`
	DefaultPriority int               `json:"default_priority" yaml:"default_priority"`
}

// Registry is the static set of providers resolved at startup.
type Registry struct {
	byName map[string]Descriptor
	orders map[model.SourceType][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Descriptor),
		orders: make(map[model.SourceType][]string),
	}
}

// Register adds p with the given default priority (lower runs first).
func (r *Registry) Register(p provider.Provider, priority int) error {
	name := p.Name()
	if _, dup := r.byName[name]; dup {
		return &ConfigError{Msg: "provider registered twice: " + name}
	}
	if !p.SourceType().Valid() {
		return &ConfigError{Msg: "provider " + name + " has unknown source type " + string(p.SourceType())}
	}
	r.byName[name] = Descriptor{
		Name:            name,
		SourceType:      p.SourceType(),
		Provider:        p,
		DefaultPriority: priority,
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// SetOrder configures the provider order for st. Names that were never
// registered (typically because credentials are missing) are dropped with a
// warning.
func (r *Registry) SetOrder(st model.SourceType, names []string) {
	var kept []string
	seen := make(map[string]bool)
	for _, n := range names {
		d, ok := r.byName[n]
		switch {
		case !ok:
			zap.L().Warn("fallback: provider not available, dropped from order",
				zap.String("source_type", string(st)),
				zap.String("provider", n),
			)
			continue
		case d.SourceType != st:
			zap.L().Warn("fallback: provider serves another source type, dropped from order",
				zap.String("source_type", string(st)),
				zap.String("provider", n),
				zap.String("serves", string(d.SourceType)),
			)
			continue
		case seen[n]:
			continue
		}
		seen[n] = true
		kept = append(kept, n)
	}
	r.orders[st] = kept
}

// Order returns the provider names tried for st. Without a configured order
// all providers of st are returned by default priority.
func (r *Registry) Order(st model.SourceType) []string {
	if names, ok := r.orders[st]; ok {
		return append([]string(nil), names...)
	}
	var ds []Descriptor
	for _, d := range r.byName {
		if d.SourceType == st {
			ds = append(ds, d)
		}
	}
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].DefaultPriority != ds[j].DefaultPriority {
			return ds[i].DefaultPriority < ds[j].DefaultPriority
		}
		return ds[i].Name < ds[j].Name
	})
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return names
}

// Resolve returns the candidates for st. A non-empty explicit order replaces
// the configured one; any name in it must be registered for st.
func (r *Registry) Resolve(st model.SourceType, explicit []string) ([]Descriptor, error) {
	names := explicit
	if len(names) == 0 {
		names = r.Order(st)
	}
	if len(names) == 0 {
		return nil, &ConfigError{Msg: "no providers configured for source type " + string(st)}
	}

	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		d, ok := r.byName[n]
		if !ok {
			return nil, &ConfigError{Msg: "unknown provider: " + n}
		}
		if d.SourceType != st {
			return nil, &ConfigError{Msg: "provider " + n + " serves " + string(d.SourceType) + ", not " + string(st)}
		}
		out = append(out, d)
	}
	return out, nil
}

// Descriptors lists every provider grouped by source type in resolved order,
// followed by registered providers left out of their source's order.
func (r *Registry) Descriptors() []Descriptor {
	var out []Descriptor
	for _, st := range model.AllSourceTypes() {
		listed := make(map[string]bool)
		for _, n := range r.Order(st) {
			listed[n] = true
			out = append(out, r.byName[n])
		}
		var rest []string
		for n, d := range r.byName {
			if d.SourceType == st && !listed[n] {
				rest = append(rest, n)
			}
		}
		sort.Strings(rest)
		for _, n := range rest {
			out = append(out, r.byName[n])
		}
	}
	return out
}
