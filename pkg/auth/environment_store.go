package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvSESSDATA   = "BILISUB_SESSDATA"
	EnvBiliJct    = "BILISUB_BILI_JCT"
	EnvDedeUserID = "BILISUB_DEDEUSERID"
	EnvBuvid3     = "BILISUB_BUVID3"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve builds an account from the environment. The account is named
// after its DedeUserID; an empty name matches it too.
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	account := &Account{
		SESSDATA:   os.Getenv(EnvSESSDATA),
		BiliJct:    os.Getenv(EnvBiliJct),
		DedeUserID: os.Getenv(EnvDedeUserID),
		Buvid3:     os.Getenv(EnvBuvid3),
	}
	if account.Validate() != nil {
		return nil, ErrCredentialsNotFound
	}

	if name != "" && name != account.DedeUserID {
		return nil, ErrCredentialsNotFound
	}
	account.Name = account.DedeUserID
	account.LastModified = time.Now()
	return account, nil
}

// List returns a single account if the environment carries one
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists reports whether the environment carries a complete login
func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
