package template

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/licensahq/stageact/model"
)

// snapshot is an immutable collection of templates indexed by name.
type snapshot struct {
	templates map[string]model.TemplateDefinition
	checksum  string
}

// Registry is a read-optimized, thread-safe store of loaded templates.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given templates.
func NewRegistry(defs []model.TemplateDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot
// built from the given templates. In-flight dispatches keep the snapshot
// they started with.
func (r *Registry) Replace(defs []model.TemplateDefinition) {
	s := &snapshot{
		templates: make(map[string]model.TemplateDefinition, len(defs)),
	}

	var checksumParts []string
	for _, def := range defs {
		s.templates[def.Name] = def
		checksumParts = append(checksumParts, def.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the template with the given name.
func (r *Registry) Get(name string) (model.TemplateDefinition, bool) {
	t, ok := r.current().templates[name]
	return t, ok
}

// All returns all templates, sorted by name.
func (r *Registry) All() []model.TemplateDefinition {
	s := r.current()
	defs := make([]model.TemplateDefinition, 0, len(s.templates))
	for _, t := range s.templates {
		defs = append(defs, t)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of loaded templates.
func (r *Registry) Len() int {
	return len(r.current().templates)
}

// Checksum returns the combined checksum of all loaded templates.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
