// Package credentials mints bearer credentials for the push provider from a
// service account using the OAuth2 JWT-bearer grant.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

// DefaultTokenURI is the Google OAuth2 token endpoint.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

// ParseServiceAccount decodes a service account JSON descriptor.
func ParseServiceAccount(raw []byte) (dispatch.ServiceAccount, error) {
	var sa dispatch.ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return sa, fmt.Errorf("service account is not valid json: %w", err)
	}
	if sa.ClientEmail == "" {
		return sa, fmt.Errorf("service account is missing client_email")
	}
	if sa.PrivateKey == "" {
		return sa, fmt.Errorf("service account is missing private_key")
	}
	if sa.ProjectID == "" {
		return sa, fmt.Errorf("service account is missing project_id")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = DefaultTokenURI
	}
	return sa, nil
}

// LoadServiceAccount reads the descriptor from inline JSON or, failing that, a file path.
func LoadServiceAccount(inlineJSON, path string) (dispatch.ServiceAccount, error) {
	if inlineJSON != "" {
		return ParseServiceAccount([]byte(inlineJSON))
	}
	if path == "" {
		return dispatch.ServiceAccount{}, fmt.Errorf("no service account configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return dispatch.ServiceAccount{}, fmt.Errorf("failed to read service account file: %w", err)
	}
	return ParseServiceAccount(raw)
}
