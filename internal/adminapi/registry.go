package adminapi

import "github.com/qbroker/core/internal/queueactor"

// Queue is the subset of queueactor.Actor the admin surface reads. Defined
// locally so this package depends only on the narrow read surface it uses.
type Queue interface {
	Stat() queueactor.VQStatus
	Info() queueactor.Info
	GetLimit() int
}

// Registry resolves a queue by name. cmd/brokerd's wiring supplies a
// concrete map-backed implementation; tests can supply a fake.
type Registry interface {
	Lookup(name string) (Queue, bool)
	Names() []string
}

// MapRegistry is the simplest Registry: a static map handed to it at
// construction, matching how a single-node broker holds its queue actors.
type MapRegistry struct {
	queues map[string]Queue
}

// NewMapRegistry builds a registry from name->queue pairs.
func NewMapRegistry(queues map[string]Queue) *MapRegistry {
	return &MapRegistry{queues: queues}
}

func (r *MapRegistry) Lookup(name string) (Queue, bool) {
	q, ok := r.queues[name]
	return q, ok
}

func (r *MapRegistry) Names() []string {
	names := make([]string, 0, len(r.queues))
	for n := range r.queues {
		names = append(names, n)
	}
	return names
}
