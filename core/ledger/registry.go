package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
	schemaledger "github.com/davidahmann/proofpack/core/schema/v1/ledger"
)

// Actor is a registered operation or plugin that may write to a ledger.
type Actor struct {
	ID             string
	Version        string
	ManifestDigest string
}

// Registry is an explicitly constructed set of known actors. Share one instance
// between the ledgers and exporters of a process instead of a package global.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]Actor
}

func NewRegistry() *Registry {
	return &Registry{actors: map[string]Actor{}}
}

// Register adds actor. Registering the same actor twice is a no-op; changing the
// version or digest of a registered id is rejected.
func (r *Registry) Register(actor Actor) error {
	actor.ID = strings.TrimSpace(actor.ID)
	actor.Version = strings.TrimSpace(actor.Version)
	if actor.ID == "" {
		return coreerrors.Validation("actor_id", "")
	}
	if actor.ManifestDigest != "" && !jcs.IsDigest(actor.ManifestDigest) {
		return coreerrors.Validation("manifest_digest", "must be a 64-character lowercase hex sha256 digest")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.actors[actor.ID]; ok {
		if existing == actor {
			return nil
		}
		return coreerrors.Validation("actor_id", fmt.Sprintf("%s is already registered as version %q", actor.ID, existing.Version))
	}
	r.actors[actor.ID] = actor
	return nil
}

func (r *Registry) Lookup(id string) (Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actor, ok := r.actors[id]
	return actor, ok
}

// Actors returns registered actors sorted by id.
func (r *Registry) Actors() []Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actors := make([]Actor, 0, len(r.actors))
	for _, actor := range r.actors {
		actors = append(actors, actor)
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i].ID < actors[j].ID })
	return actors
}

func (a Actor) digestPair() schemaledger.PluginDigest {
	return schemaledger.PluginDigest{PluginID: a.ID, Version: a.Version, ManifestDigest: a.ManifestDigest}
}
