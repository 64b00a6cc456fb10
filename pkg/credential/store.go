package credential

import (
	"sync"
)

// Snapshot is a consistent view of the store taken under one lock
// acquisition. Credential material inside a snapshot is replaced wholesale on
// every mutation and must be treated as read-only.
type Snapshot struct {
	Generation uint64
	Credential Credential
	Selection  Selection
	Catalog    Catalog
}

// Listener is invoked after every store mutation, outside the store lock
type Listener func(Snapshot)

// Store is the mutable credential record. All mutations take one lock
// acquisition so observers never see an intermediate state (e.g. a stale
// child selection pointing at a reselected parent).
//
// The generation counter increments on every credential identity change and
// on every parent reselection; catalog writes carry the generation they were
// fetched under and are discarded if it moved.
type Store struct {
	mu         sync.Mutex
	generation uint64
	cred       Credential
	sel        Selection
	catalog    Catalog
	listeners  []Listener
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Subscribe registers a listener invoked after each mutation. Registration
// order is invocation order.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Snapshot returns a consistent view of the store
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Generation: s.generation,
		Credential: s.cred,
		Selection:  s.sel,
		Catalog:    s.catalog.clone(),
	}
}

// notify invokes listeners with snap; must be called without the lock held
func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// SetAuthType switches the active auth type. The previous variant's material
// is cleared; resource selections are preserved (they may still be valid for
// the new credential, and manual entries must survive). The catalog is reset
// and the generation bumped so in-flight fetches for the old credential
// cannot land.
func (s *Store) SetAuthType(t Type) {
	s.mu.Lock()
	if s.cred.Type == t {
		s.mu.Unlock()
		return
	}
	s.cred = Credential{Type: t}
	s.catalog = Catalog{}
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SetServiceAccount installs an uploaded key as the active credential
func (s *Store) SetServiceAccount(key *ServiceAccountKey) {
	s.mu.Lock()
	s.cred = Credential{Type: TypeServiceAccount, ServiceAccount: key}
	s.catalog = Catalog{}
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// MergeOAuth2 installs the token produced by the popup login as the active
// credential
func (s *Store) MergeOAuth2(token *OAuth2Token) {
	s.mu.Lock()
	s.cred = Credential{Type: TypeOAuth2, OAuth2: token}
	s.catalog = Catalog{}
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SelectProject sets the project and clears every descendant selection in the
// same update. Reselection bumps the generation so an outstanding
// database-list fetch for the old project is discarded.
func (s *Store) SelectProject(id string) {
	s.mu.Lock()
	if s.sel.ProjectID == id {
		s.mu.Unlock()
		return
	}
	s.sel = Selection{ProjectID: id}
	s.catalog.Databases = nil
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SelectInstance sets the instance and clears database and graph
func (s *Store) SelectInstance(id string) {
	s.mu.Lock()
	if s.sel.InstanceID == id {
		s.mu.Unlock()
		return
	}
	s.sel.InstanceID = id
	s.sel.DatabaseID = ""
	s.sel.GraphName = ""
	s.catalog.Databases = nil
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SelectDatabase sets the database and clears the graph
func (s *Store) SelectDatabase(id string) {
	s.mu.Lock()
	if s.sel.DatabaseID == id {
		s.mu.Unlock()
		return
	}
	s.sel.DatabaseID = id
	s.sel.GraphName = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SelectGraph sets the property graph name
func (s *Store) SelectGraph(name string) {
	s.mu.Lock()
	if s.sel.GraphName == name {
		s.mu.Unlock()
		return
	}
	s.sel.GraphName = name
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SetProjects replaces the project catalog if gen is still current. Returns
// false when the write was discarded as stale. When autoSelect is non-empty
// and no project is selected yet, it is selected in the same update.
func (s *Store) SetProjects(gen uint64, projects []Project, autoSelect string) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.catalog.Projects = projects

	var selected bool
	if autoSelect != "" && s.sel.ProjectID == "" {
		s.sel = Selection{ProjectID: autoSelect}
		s.generation++
		selected = true
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if selected {
		s.notify(snap)
	}
	return true
}

// SetDatabases replaces the database catalog if gen is still current
func (s *Store) SetDatabases(gen uint64, databases []Database) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.catalog.Databases = databases
	s.mu.Unlock()
	return true
}
