package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements CredentialStore using environment variables.
// Read-only; it exists so CI and one-off runs need no keychain.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve gets the credential from environment variables
func (e *EnvironmentStore) Retrieve(provider string) (*Credential, error) {
	apiKey := os.Getenv("EMOCRAWL_API_KEY")
	endpoint := os.Getenv("EMOCRAWL_ENDPOINT")

	if apiKey == "" {
		return nil, ErrCredentialsNotFound
	}

	if provider == "" {
		provider = "default"
	}

	return &Credential{
		Provider:     provider,
		APIKey:       apiKey,
		Endpoint:     endpoint,
		LastModified: time.Now(),
	}, nil
}

// List returns a single credential if environment variables are set
func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(provider string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(provider string) bool {
	return os.Getenv("EMOCRAWL_API_KEY") != ""
}
