// Package spanner discovers cloud resources (projects, instances, databases,
// property graphs) on behalf of the list endpoints. The query execution
// engine itself is out of scope; this package only enumerates what exists.
package spanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/kineviz/graphxr-console/pkg/credential"
)

// ErrADCUnavailable indicates ambient credentials could not be resolved
var ErrADCUnavailable = errors.New("application default credentials unavailable")

// ErrUnauthenticated indicates the supplied credential was rejected upstream
var ErrUnauthenticated = errors.New("credential rejected by Google API")

// Catalog enumerates resources reachable with a credential
type Catalog interface {
	// ListProjects returns projects with their nested Spanner instances
	ListProjects(ctx context.Context, cred credential.Credential) ([]credential.Project, error)

	// ListDatabases returns databases (with nested property graphs) in the
	// given project and instance
	ListDatabases(ctx context.Context, cred credential.Credential, projectID, instanceID string) ([]credential.Database, error)
}

// StaticCatalog serves fixed lists. Used in tests and local development
// where no Google project is reachable.
type StaticCatalog struct {
	Projects  []credential.Project
	Databases map[string][]credential.Database // keyed "project/instance"
}

// ListProjects returns the fixed project list
func (c *StaticCatalog) ListProjects(ctx context.Context, cred credential.Credential) ([]credential.Project, error) {
	if !cred.Usable() {
		return nil, ErrUnauthenticated
	}
	return c.Projects, nil
}

// ListDatabases returns the fixed database list for project/instance
func (c *StaticCatalog) ListDatabases(ctx context.Context, cred credential.Credential, projectID, instanceID string) ([]credential.Database, error) {
	if !cred.Usable() {
		return nil, ErrUnauthenticated
	}
	return c.Databases[fmt.Sprintf("%s/%s", projectID, instanceID)], nil
}
