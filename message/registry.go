package message

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// TypeKey identifies a message type on the wire.
type TypeKey uint16

const (
	KeyInvalid TypeKey = iota
	KeyVideo
	// KeyUser is the first key available to types defined outside this package.
	KeyUser TypeKey = 1000
)

// Loader fills obj from the fields of one body version.
type Loader func(obj Native, r *Reader) error

// VersionedLoader binds a Loader to the body version it understands.
type VersionedLoader struct {
	Version uint16
	Load    Loader
}

// LoaderRegistry holds the loaders of one type, sorted by version.
type LoaderRegistry struct {
	loaders []VersionedLoader
}

// NewLoaderRegistry sorts loaders by version. It panics without any loader.
func NewLoaderRegistry(loaders ...VersionedLoader) *LoaderRegistry {
	if len(loaders) == 0 {
		panic("message: loader registry needs at least one loader")
	}
	sorted := append([]VersionedLoader(nil), loaders...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &LoaderRegistry{loaders: sorted}
}

// Current returns the version written by encoders: the newest one known.
func (lr *LoaderRegistry) Current() uint16 {
	return lr.loaders[len(lr.loaders)-1].Version
}

// Loader returns the loader of the given version. Without an exact match it returns the
// closest newer one, and the newest loader when the version is past every known one.
func (lr *LoaderRegistry) Loader(version uint16) Loader {
	idx := sort.Search(len(lr.loaders), func(i int) bool { return lr.loaders[i].Version >= version })
	if idx == len(lr.loaders) {
		idx--
	}
	return lr.loaders[idx].Load
}

// TypeInfo describes one message type: its wire key, a constructor and its loaders.
// It also hands out the sequence numbers stamped in headers of that type.
type TypeInfo struct {
	Key     TypeKey
	Name    string
	New     func() Native
	Loaders *LoaderRegistry

	sequence atomic.Uint32
}

// NextSequence returns the next sequence number for this type, starting at 1.
func (ti *TypeInfo) NextSequence() uint32 {
	return ti.sequence.Add(1)
}

func (ti *TypeInfo) String() string {
	if ti == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%d)", ti.Name, ti.Key)
}

// Registry maps type keys and names to their TypeInfo.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[TypeKey]*TypeInfo
	byName map[string]*TypeInfo
}

// NewRegistry returns a registry holding infos.
func NewRegistry(infos ...*TypeInfo) (*Registry, error) {
	r := &Registry{
		byKey:  make(map[TypeKey]*TypeInfo),
		byName: make(map[string]*TypeInfo),
	}
	for _, info := range infos {
		if err := r.Register(info); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Builtin returns a fresh registry holding the types defined by this package.
func Builtin() *Registry {
	r, err := NewRegistry(VideoType)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a type. Keys and names must be unique.
func (r *Registry) Register(info *TypeInfo) error {
	if info == nil || info.New == nil || info.Loaders == nil {
		return fmt.Errorf("message: incomplete type info %v", info)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byKey[info.Key]; ok {
		return fmt.Errorf("%w: key %d already used by %s", ErrDuplicateType, info.Key, prev.Name)
	}
	if _, ok := r.byName[info.Name]; ok {
		return fmt.Errorf("%w: name %q", ErrDuplicateType, info.Name)
	}
	r.byKey[info.Key] = info
	r.byName[info.Name] = info
	return nil
}

// Lookup returns the type registered under key.
func (r *Registry) Lookup(key TypeKey) (*TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byKey[key]
	return info, ok
}

// LookupName returns the type registered under name.
func (r *Registry) LookupName(name string) (*TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byName[name]
	return info, ok
}

// Names returns the sorted registered type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.byName)
	sort.Strings(names)
	return names
}
