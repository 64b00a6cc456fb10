// Package credential holds the console's active credential material, the
// operator's resource selections, and the lazily populated resource catalog.
// It is the single source of truth the cascade loader and the popup bridge
// mutate, and the list endpoints read from.
package credential

import (
	"encoding/json"
	"fmt"
)

// Type identifies which credential variant is active
type Type string

const (
	TypeServiceAccount Type = "service_account"
	TypeOAuth2         Type = "oauth2"
	TypeADC            Type = "adc"
)

// ServiceAccountKey is an uploaded service-account JSON key. Raw preserves
// the full original document so fields we do not model survive a round trip
// to the list endpoints.
type ServiceAccountKey struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`

	Raw json.RawMessage `json:"-"`
}

// ParseServiceAccountKey parses and validates an uploaded key. Malformed or
// incomplete keys are rejected here and never reach the store.
func ParseServiceAccountKey(data []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("invalid service account key: %w", err)
	}

	if key.Type != "service_account" {
		return nil, fmt.Errorf("invalid service account key: type must be %q, got %q", "service_account", key.Type)
	}
	for field, value := range map[string]string{
		"private_key":    key.PrivateKey,
		"client_email":   key.ClientEmail,
		"project_id":     key.ProjectID,
		"private_key_id": key.PrivateKeyID,
	} {
		if value == "" {
			return nil, fmt.Errorf("invalid service account key: missing %s", field)
		}
	}

	key.Raw = json.RawMessage(append([]byte(nil), data...))
	return &key, nil
}

// OAuth2Token is the material produced by the interactive popup login
type OAuth2Token struct {
	Token         string `json:"token"`
	RefreshToken  string `json:"refresh_token"`
	ExpiresIn     int64  `json:"expires_in"`
	LastRefreshed int64  `json:"last_refreshed"` // epoch seconds
	Email         string `json:"email"`
	State         string `json:"state"`
}

// Credential is a tagged union over the three auth variants. At most one
// variant's material is populated at a time.
type Credential struct {
	Type           Type
	ServiceAccount *ServiceAccountKey
	OAuth2         *OAuth2Token
}

// Usable reports whether the credential can drive a project-list fetch.
// OAuth2 needs a token, a service account needs a key ID, ADC needs nothing.
func (c Credential) Usable() bool {
	switch c.Type {
	case TypeOAuth2:
		return c.OAuth2 != nil && c.OAuth2.Token != ""
	case TypeServiceAccount:
		return c.ServiceAccount != nil && c.ServiceAccount.PrivateKeyID != ""
	case TypeADC:
		return true
	default:
		return false
	}
}

// Selection holds the operator's resource identifiers, filled left to right.
// Values may be free text when the catalog could not be discovered (the ADC
// fallback), so they are never validated against the catalog here.
type Selection struct {
	ProjectID  string `json:"project_id"`
	InstanceID string `json:"instance_id"`
	DatabaseID string `json:"database_id"`
	GraphName  string `json:"graph_name"`
}
