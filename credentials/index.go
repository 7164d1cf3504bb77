package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	coreerrors "github.com/microsandbox/msbcore/internal/errors"
)

// indexFile is the on-disk shape of registry_auth_index.json: the
// secure store holds the credential values, this file only tracks
// which hosts have an entry so CredentialStore can enumerate and bulk
// clear without scanning the secure store.
type indexFile struct {
	Hosts []string `json:"hosts"`
}

const indexFileName = "registry_auth_index.json"

func indexPath(home string) string {
	return filepath.Join(home, indexFileName)
}

func loadIndex(home string) (indexFile, error) {
	data, err := os.ReadFile(indexPath(home))
	if os.IsNotExist(err) {
		return indexFile{}, nil
	}
	if err != nil {
		return indexFile{}, coreerrors.NewBlobStoreError("load_credential_index", "", "failed to read credential index", err)
	}

	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return indexFile{}, coreerrors.NewBlobStoreError("load_credential_index", "", "failed to parse credential index", err)
	}
	return idx, nil
}

// saveIndex writes the index atomically (temp file then rename) so a
// crash mid-write cannot leave a corrupt or wrongly-permissioned file,
// and sets owner-only (0600) permissions.
func saveIndex(home string, idx indexFile) error {
	sort.Strings(idx.Hosts)

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return coreerrors.NewBlobStoreError("save_credential_index", "", "failed to marshal credential index", err)
	}

	target := indexPath(home)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return coreerrors.NewBlobStoreError("save_credential_index", "", "failed to write credential index", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return coreerrors.NewBlobStoreError("save_credential_index", "", "failed to install credential index", err)
	}

	return nil
}

func (idx *indexFile) add(host string) {
	for _, h := range idx.Hosts {
		if h == host {
			return
		}
	}
	idx.Hosts = append(idx.Hosts, host)
}

func (idx *indexFile) remove(host string) bool {
	for i, h := range idx.Hosts {
		if h == host {
			idx.Hosts = append(idx.Hosts[:i], idx.Hosts[i+1:]...)
			return true
		}
	}
	return false
}
