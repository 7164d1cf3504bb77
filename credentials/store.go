package credentials

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"

	"github.com/zalando/go-keyring"

	coreerrors "github.com/microsandbox/msbcore/internal/errors"
)

// serviceNameHexLen truncates the service name's home-path hash to 16
// hex characters so the derived name stays short enough for keyring
// backends (notably Windows Credential Manager) with tight service
// name limits.
const serviceNameHexLen = 16

// Store persists StoredCredentials in the platform secure store
// (Keychain, Secret Service, Credential Manager) and maintains a
// sibling index file of known hosts. The service name under which
// every entry is filed is derived by hashing the microsandbox home
// directory, so two installations on one machine never collide.
type Store struct {
	home    string
	service string
}

// NewStore derives the store's secure-store service name from home and
// returns a Store ready to use; it performs no I/O itself.
func NewStore(home string) *Store {
	sum := sha256.Sum256([]byte(home))
	return &Store{
		home:    home,
		service: "microsandbox:" + hex.EncodeToString(sum[:])[:serviceNameHexLen],
	}
}

// Load returns the stored credentials for host, or (nil, nil) if none
// are stored. A secure-store "no entry" result maps to (nil, nil)
// rather than an error.
func (s *Store) Load(host string) (*StoredCredentials, error) {
	raw, err := keyring.Get(s.service, host)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, coreerrors.NewKeyringError("keyring_load", "failed to read credentials for "+host, err)
	}

	var creds StoredCredentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, coreerrors.NewKeyringError("keyring_load", "failed to decode stored credentials for "+host, err)
	}
	return &creds, nil
}

// Store persists creds for host, verifies the write round-trips by
// reading it back, and upserts host into the index file.
func (s *Store) Store(host string, creds StoredCredentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return coreerrors.NewKeyringError("keyring_store", "failed to encode credentials for "+host, err)
	}

	if err := keyring.Set(s.service, host, string(data)); err != nil {
		return coreerrors.NewKeyringError("keyring_store", "failed to write credentials for "+host, err)
	}

	if readBack, err := s.Load(host); err != nil || readBack == nil {
		return coreerrors.NewKeyringError("keyring_store", "credentials for "+host+" did not round-trip after write", err)
	}

	idx, err := loadIndex(s.home)
	if err != nil {
		return err
	}
	idx.add(host)
	return saveIndex(s.home, idx)
}

// Remove deletes the stored credentials for host and drops it from the
// index, returning whether an entry existed.
func (s *Store) Remove(host string) (bool, error) {
	err := keyring.Delete(s.service, host)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return false, coreerrors.NewKeyringError("keyring_remove", "failed to remove credentials for "+host, err)
	}
	existed := err == nil

	idx, loadErr := loadIndex(s.home)
	if loadErr != nil {
		return existed, loadErr
	}
	removedFromIndex := idx.remove(host)
	if removedFromIndex {
		if err := saveIndex(s.home, idx); err != nil {
			return existed, err
		}
	}

	return existed || removedFromIndex, nil
}

// Clear removes every host recorded in the index from the secure
// store, then deletes the index file itself.
func (s *Store) Clear() error {
	idx, err := loadIndex(s.home)
	if err != nil {
		return err
	}

	for _, host := range idx.Hosts {
		if err := keyring.Delete(s.service, host); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return coreerrors.NewKeyringError("keyring_clear", "failed to remove credentials for "+host, err)
		}
	}

	if err := os.Remove(indexPath(s.home)); err != nil && !os.IsNotExist(err) {
		return coreerrors.NewBlobStoreError("keyring_clear", "", "failed to remove credential index", err)
	}

	return nil
}

// Hosts returns the set of registry hosts with a recorded entry.
func (s *Store) Hosts() ([]string, error) {
	idx, err := loadIndex(s.home)
	if err != nil {
		return nil, err
	}
	return idx.Hosts, nil
}
