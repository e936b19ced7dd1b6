package projection

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/logger"
)

// ErrProjectionNotFound is returned by GetProjector/GetReadModelProjector
// for names not created through this Manager.
var ErrProjectionNotFound = eventstore.ErrProjectionNotFound

// Manager is the registry and control channel for projectors.
// GetProjector/GetReadModelProjector live here rather than on
// eventstore.EventStore because this package imports eventstore, not the
// other way around.
type Manager struct {
	store *eventstore.EventStore
	lock  eventstore.WriteLockStrategy
	log   logger.Logger

	mu         sync.RWMutex
	projectors map[string]*Projector
	readModels map[string]*ReadModelProjector
}

// NewManager binds a manager to store. lock may be nil, in which case
// concurrent runs of the same projection are not serialized.
func NewManager(store *eventstore.EventStore, lock eventstore.WriteLockStrategy, log logger.Logger) *Manager {
	return &Manager{
		store:      store,
		lock:       lock,
		log:        logger.OrNop(log),
		projectors: make(map[string]*Projector),
		readModels: make(map[string]*ReadModelProjector),
	}
}

// CreateProjector returns a new projector bound to this manager and store,
// registering it under name for later retrieval via GetProjector.
func (m *Manager) CreateProjector(name string) *Projector {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := newProjector(name, m.store, m.lock, m.log)
	m.projectors[name] = p
	return p
}

// CreateReadModelProjector returns a new read-model-driving projector bound
// to this manager, store, and readModel.
func (m *Manager) CreateReadModelProjector(name string, readModel ReadModel) *ReadModelProjector {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := newReadModelProjector(name, m.store, m.lock, m.log, readModel)
	m.readModels[name] = p
	return p
}

// GetProjector returns the pre-instantiated projector registered under name.
func (m *Manager) GetProjector(name string) (*Projector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projectors[name]
	if !ok {
		return nil, errors.Wrap(ErrProjectionNotFound, name)
	}
	return p, nil
}

// GetReadModelProjector returns the pre-instantiated read-model projector
// registered under name.
func (m *Manager) GetReadModelProjector(name string) (*ReadModelProjector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.readModels[name]
	if !ok {
		return nil, errors.Wrap(ErrProjectionNotFound, name)
	}
	return p, nil
}

// FetchProjectionStatus returns the current persisted status, or RUNNING if
// the lookup fails: a fail-open default so transient back-end errors don't
// stop a healthy projector.
func (m *Manager) FetchProjectionStatus(ctx context.Context, name string) eventstore.ProjectionStatus {
	return fetchProjectionStatus(ctx, m.store.Strategy(), m.log, name)
}

func fetchProjectionStatus(ctx context.Context, strategy eventstore.PersistenceStrategy, log logger.Logger, name string) eventstore.ProjectionStatus {
	rec, err := strategy.LoadProjection(ctx, name)
	if err != nil {
		log.WithError(err).WithField("projection", name).Warn("failed to fetch projection status; assuming RUNNING")
		return eventstore.StatusRunning
	}
	if rec == nil {
		return eventstore.StatusRunning
	}
	return rec.Status
}

// IdleProjection sets name's persisted status to IDLE. The running
// projector observes this at its next poll point; there is no direct
// method invocation.
func (m *Manager) IdleProjection(ctx context.Context, name string) error {
	return m.store.Strategy().SetProjectionStatus(ctx, name, eventstore.StatusIdle)
}

// StopProjection sets name's persisted status to STOPPING.
func (m *Manager) StopProjection(ctx context.Context, name string) error {
	return m.store.Strategy().SetProjectionStatus(ctx, name, eventstore.StatusStopping)
}

// ResetProjection sets name's persisted status to RESETTING.
func (m *Manager) ResetProjection(ctx context.Context, name string) error {
	return m.store.Strategy().SetProjectionStatus(ctx, name, eventstore.StatusResetting)
}

// DeleteProjection sets name's persisted status to DELETING. If
// includeEmittedEvents, the projector also drops its own emitted stream
// once it observes the transition.
func (m *Manager) DeleteProjection(ctx context.Context, name string, includeEmittedEvents bool) error {
	status := eventstore.StatusDeleting
	if includeEmittedEvents {
		status = eventstore.StatusDeletingInclEmittedEvents
	}
	return m.store.Strategy().SetProjectionStatus(ctx, name, status)
}

// Status returns every persisted projection record, ordered by name, plus
// an IDLE placeholder for any projector registered with this manager that
// has never persisted a record yet. Used by the HTTP status surface and
// the CLI.
func (m *Manager) Status(ctx context.Context) ([]eventstore.ProjectionRecord, error) {
	records, err := m.store.Strategy().ListProjections(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "projection: list records")
	}

	persisted := make(map[string]struct{}, len(records))
	for _, rec := range records {
		persisted[rec.Name] = struct{}{}
	}

	m.mu.RLock()
	for name := range m.projectors {
		if _, ok := persisted[name]; !ok {
			records = append(records, eventstore.ProjectionRecord{Name: name, Status: eventstore.StatusIdle})
		}
	}
	for name := range m.readModels {
		if _, ok := persisted[name]; !ok {
			records = append(records, eventstore.ProjectionRecord{Name: name, Status: eventstore.StatusIdle})
		}
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}
