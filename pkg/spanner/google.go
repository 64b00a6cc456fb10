package spanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/kineviz/graphxr-console/pkg/credential"
	"github.com/kineviz/graphxr-console/pkg/observability"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// GoogleCatalog enumerates resources through the Cloud Resource Manager and
// Spanner admin REST APIs. Responses are cached per credential fingerprint;
// listing instances across projects is slow enough that the console would
// otherwise hammer the APIs on every cascade re-evaluation.
type GoogleCatalog struct {
	resourceManagerURL string
	spannerURL         string
	httpClient         *http.Client
	logger             *observability.Logger
	metrics            *observability.Metrics

	cache    *lru.Cache[string, cacheEntry]
	cacheTTL time.Duration
}

type cacheEntry struct {
	projects  []credential.Project
	databases []credential.Database
	storedAt  time.Time
}

// GoogleOption customizes a GoogleCatalog
type GoogleOption func(*GoogleCatalog)

// WithEndpoints overrides the Google API base URLs (tests)
func WithEndpoints(resourceManagerURL, spannerURL string) GoogleOption {
	return func(c *GoogleCatalog) {
		c.resourceManagerURL = strings.TrimRight(resourceManagerURL, "/")
		c.spannerURL = strings.TrimRight(spannerURL, "/")
	}
}

// WithHTTPClient overrides the HTTP client used for API calls
func WithHTTPClient(client *http.Client) GoogleOption {
	return func(c *GoogleCatalog) { c.httpClient = client }
}

// WithCacheTTL overrides how long list responses are served from cache
func WithCacheTTL(ttl time.Duration) GoogleOption {
	return func(c *GoogleCatalog) { c.cacheTTL = ttl }
}

// NewGoogleCatalog creates a catalog backed by the Google REST APIs
func NewGoogleCatalog(logger *observability.Logger, metrics *observability.Metrics, opts ...GoogleOption) (*GoogleCatalog, error) {
	cache, err := lru.New[string, cacheEntry](128)
	if err != nil {
		return nil, err
	}

	c := &GoogleCatalog{
		resourceManagerURL: "https://cloudresourcemanager.googleapis.com",
		spannerURL:         "https://spanner.googleapis.com",
		httpClient:         http.DefaultClient,
		logger:             logger.WithComponent("spanner"),
		metrics:            metrics,
		cache:              cache,
		cacheTTL:           5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// tokenSource builds an oauth2.TokenSource for the credential variant
func (c *GoogleCatalog) tokenSource(ctx context.Context, cred credential.Credential) (oauth2.TokenSource, error) {
	switch cred.Type {
	case credential.TypeOAuth2:
		if cred.OAuth2 == nil || cred.OAuth2.Token == "" {
			return nil, ErrUnauthenticated
		}
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.OAuth2.Token}), nil

	case credential.TypeServiceAccount:
		if cred.ServiceAccount == nil {
			return nil, ErrUnauthenticated
		}
		cfg, err := google.JWTConfigFromJSON(cred.ServiceAccount.Raw, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parsing service account key: %w", err)
		}
		return cfg.TokenSource(ctx), nil

	case credential.TypeADC:
		creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrADCUnavailable, err)
		}
		return creds.TokenSource, nil

	default:
		return nil, fmt.Errorf("unknown auth type %q", cred.Type)
	}
}

// fingerprint identifies a credential for cache keying without retaining its
// material
func fingerprint(cred credential.Credential) string {
	h := sha256.New()
	h.Write([]byte(cred.Type))
	switch cred.Type {
	case credential.TypeOAuth2:
		if cred.OAuth2 != nil {
			h.Write([]byte(cred.OAuth2.Token))
		}
	case credential.TypeServiceAccount:
		if cred.ServiceAccount != nil {
			h.Write([]byte(cred.ServiceAccount.ClientEmail))
			h.Write([]byte(cred.ServiceAccount.PrivateKeyID))
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// ListProjects lists projects reachable by the credential, with nested
// Spanner instances. A service account is scoped to its own project.
func (c *GoogleCatalog) ListProjects(ctx context.Context, cred credential.Credential) ([]credential.Project, error) {
	cacheKey := "projects:" + fingerprint(cred)
	if entry, ok := c.cacheGet(cacheKey); ok {
		return entry.projects, nil
	}

	ts, err := c.tokenSource(ctx, cred)
	if err != nil {
		return nil, err
	}

	var projects []credential.Project
	if cred.Type == credential.TypeServiceAccount {
		projects = []credential.Project{{
			ID:   cred.ServiceAccount.ProjectID,
			Name: cred.ServiceAccount.ProjectID,
		}}
	} else {
		projects, err = c.listAllProjects(ctx, ts)
		if err != nil {
			return nil, err
		}
	}

	for i := range projects {
		instances, err := c.listInstances(ctx, ts, projects[i].ID)
		if err != nil {
			// A project without Spanner access still appears, just with an
			// empty instance list; manual entry covers it
			c.logger.WithError(err).WithField("project", projects[i].ID).Debug("instance listing failed")
			instances = []credential.Instance{}
		}
		projects[i].Instances = instances
	}

	c.cachePut(cacheKey, cacheEntry{projects: projects})
	return projects, nil
}

// ListDatabases lists databases in project/instance with their property
// graphs
func (c *GoogleCatalog) ListDatabases(ctx context.Context, cred credential.Credential, projectID, instanceID string) ([]credential.Database, error) {
	cacheKey := fmt.Sprintf("databases:%s:%s/%s", fingerprint(cred), projectID, instanceID)
	if entry, ok := c.cacheGet(cacheKey); ok {
		return entry.databases, nil
	}

	ts, err := c.tokenSource(ctx, cred)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/v1/projects/%s/instances/%s/databases",
		c.spannerURL, url.PathEscape(projectID), url.PathEscape(instanceID))

	var body struct {
		Databases []struct {
			Name string `json:"name"`
		} `json:"databases"`
	}
	if err := c.get(ctx, ts, path, &body); err != nil {
		return nil, err
	}

	databases := make([]credential.Database, 0, len(body.Databases))
	for _, db := range body.Databases {
		id := lastSegment(db.Name)
		database := credential.Database{ID: id, Name: id}
		if graphs, err := c.listPropertyGraphs(ctx, ts, db.Name); err == nil {
			database.GraphDBs = graphs
		} else {
			c.logger.WithError(err).WithField("database", id).Debug("property graph listing failed")
		}
		databases = append(databases, database)
	}

	c.cachePut(cacheKey, cacheEntry{databases: databases})
	return databases, nil
}

func (c *GoogleCatalog) listAllProjects(ctx context.Context, ts oauth2.TokenSource) ([]credential.Project, error) {
	var body struct {
		Projects []struct {
			ProjectID string `json:"projectId"`
			Name      string `json:"name"`
		} `json:"projects"`
	}
	if err := c.get(ctx, ts, c.resourceManagerURL+"/v1/projects", &body); err != nil {
		return nil, err
	}

	projects := make([]credential.Project, 0, len(body.Projects))
	for _, p := range body.Projects {
		name := p.Name
		if name == "" {
			name = p.ProjectID
		}
		projects = append(projects, credential.Project{ID: p.ProjectID, Name: name})
	}
	return projects, nil
}

func (c *GoogleCatalog) listInstances(ctx context.Context, ts oauth2.TokenSource, projectID string) ([]credential.Instance, error) {
	path := fmt.Sprintf("%s/v1/projects/%s/instances", c.spannerURL, url.PathEscape(projectID))

	var body struct {
		Instances []struct {
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"instances"`
	}
	if err := c.get(ctx, ts, path, &body); err != nil {
		return nil, err
	}

	instances := make([]credential.Instance, 0, len(body.Instances))
	for _, inst := range body.Instances {
		id := lastSegment(inst.Name)
		name := inst.DisplayName
		if name == "" {
			name = id
		}
		instances = append(instances, credential.Instance{ID: id, Name: name})
	}
	return instances, nil
}

// listPropertyGraphs queries INFORMATION_SCHEMA for property graphs in the
// database. Requires a short-lived session; failures degrade to "no graphs".
func (c *GoogleCatalog) listPropertyGraphs(ctx context.Context, ts oauth2.TokenSource, databaseName string) ([]credential.GraphDB, error) {
	sessionURL := fmt.Sprintf("%s/v1/%s/sessions", c.spannerURL, databaseName)

	var session struct {
		Name string `json:"name"`
	}
	if err := c.post(ctx, ts, sessionURL, map[string]interface{}{}, &session); err != nil {
		return nil, err
	}
	defer func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/v1/%s", c.spannerURL, session.Name), nil)
		if err == nil {
			if resp, err := c.authorized(ts, req); err == nil {
				resp.Body.Close()
			}
		}
	}()

	var result struct {
		Rows [][]string `json:"rows"`
	}
	query := map[string]interface{}{
		"sql": "SELECT property_graph_name FROM INFORMATION_SCHEMA.PROPERTY_GRAPHS",
	}
	executeURL := fmt.Sprintf("%s/v1/%s:executeSql", c.spannerURL, session.Name)
	if err := c.post(ctx, ts, executeURL, query, &result); err != nil {
		return nil, err
	}

	graphs := make([]credential.GraphDB, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) > 0 {
			graphs = append(graphs, credential.GraphDB{ID: row[0], Name: row[0]})
		}
	}
	return graphs, nil
}

func (c *GoogleCatalog) get(ctx context.Context, ts oauth2.TokenSource, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.send(ts, req, dest)
}

func (c *GoogleCatalog) post(ctx context.Context, ts oauth2.TokenSource, url string, body, dest interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(ts, req, dest)
}

func (c *GoogleCatalog) send(ts oauth2.TokenSource, req *http.Request, dest interface{}) error {
	resp, err := c.authorized(ts, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s returned %d", ErrUnauthenticated, req.URL.Path, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("google API %s returned %d: %s", req.URL.Path, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(dest)
}

func (c *GoogleCatalog) authorized(ts oauth2.TokenSource, req *http.Request) (*http.Response, error) {
	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	token.SetAuthHeader(req)
	return c.httpClient.Do(req)
}

func (c *GoogleCatalog) cacheGet(key string) (cacheEntry, bool) {
	entry, ok := c.cache.Get(key)
	if ok && time.Since(entry.storedAt) < c.cacheTTL {
		if c.metrics != nil {
			c.metrics.CatalogCacheHitsTotal.Inc()
		}
		return entry, true
	}
	if c.metrics != nil {
		c.metrics.CatalogCacheMissesTotal.Inc()
	}
	return cacheEntry{}, false
}

func (c *GoogleCatalog) cachePut(key string, entry cacheEntry) {
	entry.storedAt = time.Now()
	c.cache.Add(key, entry)
}

func lastSegment(name string) string {
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
