// Package cascade keeps the resource catalog in sync with the active
// credential and the operator's selections. Each trigger is re-evaluated
// independently on every store change:
//
//   - project list: fires when the credential becomes usable
//   - database list: fires when both project and instance are selected
//
// Fetches are generation-guarded: a response fetched under an older store
// generation is discarded instead of overwriting newer state.
package cascade

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kineviz/graphxr-console/pkg/client"
	"github.com/kineviz/graphxr-console/pkg/credential"
	"github.com/kineviz/graphxr-console/pkg/observability"
)

// Notice is a user-facing notification emitted at the loader boundary.
// No failure here is allowed to propagate as a crash.
type Notice struct {
	Kind    string // "projects" or "databases"
	Message string
}

// Loader reacts to credential store changes and populates the catalog
type Loader struct {
	store   *credential.Store
	client  *client.Client
	logger  *observability.Logger
	metrics *observability.Metrics
	notify  func(Notice)

	ctx context.Context

	mu               sync.Mutex
	projectsLoading  bool
	databasesLoading bool

	// generation+1 of the last attempted fetch per kind (0 = never).
	// A failed fetch is not re-attempted for the same generation; retry is
	// manual or implied by the next credential/selection change.
	projectsAttempted  uint64
	databasesAttempted uint64
}

// NewLoader creates a loader and subscribes it to the store. ctx bounds all
// fetches the loader issues. notify may be nil, in which case notices are
// only logged.
func NewLoader(ctx context.Context, store *credential.Store, c *client.Client, logger *observability.Logger, metrics *observability.Metrics, notify func(Notice)) *Loader {
	l := &Loader{
		store:   store,
		client:  c,
		logger:  logger.WithComponent("cascade"),
		metrics: metrics,
		notify:  notify,
		ctx:     ctx,
	}
	store.Subscribe(l.evaluate)
	return l
}

// Start evaluates the triggers against the current store state. Call once
// after construction so state restored before subscription is picked up.
func (l *Loader) Start() {
	l.evaluate(l.store.Snapshot())
}

// Loading reports the in-flight state of the two fetch kinds
func (l *Loader) Loading() (projects, databases bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.projectsLoading, l.databasesLoading
}

// RetryProjects re-arms the project-list trigger after a failed fetch
func (l *Loader) RetryProjects() {
	l.mu.Lock()
	l.projectsAttempted = 0
	l.mu.Unlock()
	l.evaluate(l.store.Snapshot())
}

// RetryDatabases re-arms the database-list trigger after a failed fetch
func (l *Loader) RetryDatabases() {
	l.mu.Lock()
	l.databasesAttempted = 0
	l.mu.Unlock()
	l.evaluate(l.store.Snapshot())
}

// evaluate re-checks both triggers against one snapshot
func (l *Loader) evaluate(snap credential.Snapshot) {
	if snap.Credential.Usable() && snap.Catalog.Projects == nil {
		l.mu.Lock()
		if !l.projectsLoading && l.projectsAttempted != snap.Generation+1 {
			l.projectsLoading = true
			l.projectsAttempted = snap.Generation + 1
			go l.fetchProjects(snap)
		}
		l.mu.Unlock()
	}

	if snap.Selection.ProjectID != "" && snap.Selection.InstanceID != "" && snap.Catalog.Databases == nil {
		l.mu.Lock()
		if !l.databasesLoading && l.databasesAttempted != snap.Generation+1 {
			l.databasesLoading = true
			l.databasesAttempted = snap.Generation + 1
			go l.fetchDatabases(snap)
		}
		l.mu.Unlock()
	}
}

func (l *Loader) fetchProjects(snap credential.Snapshot) {
	defer func() {
		l.mu.Lock()
		l.projectsLoading = false
		l.mu.Unlock()
		// A newer generation may have been waiting on the loading flag
		l.evaluate(l.store.Snapshot())
	}()

	start := time.Now()
	projects, err := l.client.ListProjects(l.ctx, snap.Credential)
	l.observe("projects", start, err)
	if err != nil {
		l.report("projects", snap.Credential.Type, err)
		return
	}

	if projects == nil {
		projects = []credential.Project{}
	}
	autoSelect := ""
	if len(projects) > 0 {
		autoSelect = projects[0].ID
	}

	if !l.store.SetProjects(snap.Generation, projects, autoSelect) {
		l.dropStale("projects")
	}
}

func (l *Loader) fetchDatabases(snap credential.Snapshot) {
	defer func() {
		l.mu.Lock()
		l.databasesLoading = false
		l.mu.Unlock()
		l.evaluate(l.store.Snapshot())
	}()

	start := time.Now()
	databases, err := l.client.ListDatabases(l.ctx, snap.Credential, snap.Selection.ProjectID, snap.Selection.InstanceID)
	l.observe("databases", start, err)
	if err != nil {
		l.report("databases", snap.Credential.Type, err)
		return
	}

	if databases == nil {
		databases = []credential.Database{}
	}
	if !l.store.SetDatabases(snap.Generation, databases) {
		l.dropStale("databases")
	}
}

// report converts a fetch failure into a user-facing notice. The prior
// catalog is left untouched; only the loading flag is cleared.
func (l *Loader) report(kind string, authType credential.Type, err error) {
	var message string
	switch {
	case errors.Is(err, client.ErrAuthRequired):
		message = client.ErrAuthRequired.Error()
	case errors.Is(err, client.ErrADCUnavailable), authType == credential.TypeADC:
		message = client.ErrADCUnavailable.Error()
	default:
		message = "failed to list " + kind + "; check the connection and retry"
	}

	l.logger.WithError(err).WithField("kind", kind).Warn("cascade fetch failed")
	if l.notify != nil {
		l.notify(Notice{Kind: kind, Message: message})
	}
}

func (l *Loader) observe(kind string, start time.Time, err error) {
	if l.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	l.metrics.CascadeFetchesTotal.WithLabelValues(kind, status).Inc()
	l.metrics.CascadeFetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (l *Loader) dropStale(kind string) {
	l.logger.WithField("kind", kind).Debug("discarded stale list response")
	if l.metrics != nil {
		l.metrics.CascadeStaleDropped.Inc()
	}
}
