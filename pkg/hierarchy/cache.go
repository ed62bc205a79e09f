package hierarchy

import (
	"slices"

	"github.com/puzpuzpuz/xsync/v4"
)

// Cache memoizes the answers of another Provider. It is safe for concurrent
// use as long as the wrapped provider is not mutated while the cache is alive.
type Cache struct {
	provider Provider
	supers   *xsync.Map[string, cachedName]
	ifaces   *xsync.Map[string, cachedNames]
	subs     *xsync.Map[string, cachedNames]
	kinds    *xsync.Map[string, Ternary]
}

type cachedName struct {
	name  string
	known bool
}

type cachedNames struct {
	names []string
	known bool
}

// NewCache wraps p.
func NewCache(p Provider) *Cache {
	return &Cache{
		provider: p,
		supers:   xsync.NewMap[string, cachedName](),
		ifaces:   xsync.NewMap[string, cachedNames](),
		subs:     xsync.NewMap[string, cachedNames](),
		kinds:    xsync.NewMap[string, Ternary](),
	}
}

// SuperClass implements Provider.
func (c *Cache) SuperClass(cl string) (string, bool) {
	if v, ok := c.supers.Load(cl); ok {
		return v.name, v.known
	}
	name, known := c.provider.SuperClass(cl)
	c.supers.Store(cl, cachedName{name: name, known: known})
	return name, known
}

// SuperInterfaces implements Provider.
func (c *Cache) SuperInterfaces(cl string) ([]string, bool) {
	return c.lookupNames(c.ifaces, cl, c.provider.SuperInterfaces)
}

// SubClasses implements Provider.
func (c *Cache) SubClasses(cl string) ([]string, bool) {
	return c.lookupNames(c.subs, cl, c.provider.SubClasses)
}

// IsInterface implements Provider.
func (c *Cache) IsInterface(cl string) Ternary {
	if v, ok := c.kinds.Load(cl); ok {
		return v
	}
	v := c.provider.IsInterface(cl)
	c.kinds.Store(cl, v)
	return v
}

func (c *Cache) lookupNames(m *xsync.Map[string, cachedNames], cl string, fetch func(string) ([]string, bool)) ([]string, bool) {
	if v, ok := m.Load(cl); ok {
		return slices.Clone(v.names), v.known
	}
	names, known := fetch(cl)
	m.Store(cl, cachedNames{names: slices.Clone(names), known: known})
	return names, known
}
