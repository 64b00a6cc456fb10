package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kineviz/graphxr-console/pkg/credential"
	"github.com/kineviz/graphxr-console/pkg/httputil"
	"github.com/kineviz/graphxr-console/pkg/spanner"
)

const codeADCUnavailable = "adc_unavailable"

type listRequest struct {
	Auth       json.RawMessage `json:"auth"`
	AuthType   credential.Type `json:"auth_type"`
	ProjectID  string          `json:"project_id"`
	InstanceID string          `json:"instance_id"`
}

// credentialFromRequest rebuilds the tagged credential union from a list
// request body
func credentialFromRequest(req listRequest) (credential.Credential, error) {
	switch req.AuthType {
	case credential.TypeServiceAccount:
		key, err := credential.ParseServiceAccountKey(req.Auth)
		if err != nil {
			return credential.Credential{}, err
		}
		return credential.Credential{Type: credential.TypeServiceAccount, ServiceAccount: key}, nil

	case credential.TypeOAuth2:
		var token credential.OAuth2Token
		if err := json.Unmarshal(req.Auth, &token); err != nil {
			return credential.Credential{}, errors.New("invalid oauth2 credential payload")
		}
		return credential.Credential{Type: credential.TypeOAuth2, OAuth2: &token}, nil

	case credential.TypeADC:
		return credential.Credential{Type: credential.TypeADC}, nil

	default:
		return credential.Credential{}, errors.New("unknown auth_type")
	}
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	cred, err := credentialFromRequest(req)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	projects, err := s.catalog.ListProjects(r.Context(), cred)
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	if projects == nil {
		projects = []credential.Project{}
	}
	httputil.WriteSuccess(w, projects)
}

func (s *Server) listDatabases(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ProjectID == "" || req.InstanceID == "" {
		httputil.WriteBadRequest(w, "project_id and instance_id are required")
		return
	}

	cred, err := credentialFromRequest(req)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	databases, err := s.catalog.ListDatabases(r.Context(), cred, req.ProjectID, req.InstanceID)
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	if databases == nil {
		databases = []credential.Database{}
	}
	httputil.WriteSuccess(w, databases)
}

func (s *Server) writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, spanner.ErrADCUnavailable):
		httputil.WriteErrorCode(w, http.StatusUnauthorized, codeADCUnavailable,
			"application default credentials are not available on this host")
	case errors.Is(err, spanner.ErrUnauthenticated):
		httputil.WriteUnauthorized(w, "credential rejected by Google API")
	default:
		s.logger.WithError(err).Error("catalog request failed")
		httputil.WriteBadGateway(w, "upstream Google API request failed")
	}
}
