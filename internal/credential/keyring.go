package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailcache"

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailcache/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailcache-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// sessionTokenKey is the keyring key holding a user's server session token.
func sessionTokenKey(userID string) string {
	return "session-token-" + userID
}

// TokenStore exposes per-user session tokens over the system keyring.
// The zero value is ready to use.
type TokenStore struct{}

// SetSessionToken stores the server session token for a user.
func (TokenStore) SetSessionToken(userID, token string) error {
	return Set(sessionTokenKey(userID), token)
}

// GetSessionToken retrieves the server session token for a user.
func (TokenStore) GetSessionToken(userID string) (string, error) {
	return Get(sessionTokenKey(userID))
}

// DeleteSessionToken removes the server session token for a user.
// Deleting a token that was never stored is not an error.
func (TokenStore) DeleteSessionToken(userID string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	if err := ring.Remove(sessionTokenKey(userID)); err != nil && err != keyring.ErrKeyNotFound {
		return fmt.Errorf("deleting session token for %s: %w", userID, err)
	}
	return nil
}
