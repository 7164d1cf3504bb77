package credentials

import "os"

// ResolveAuth returns the credentials to use for host: environment
// variable overrides take precedence over anything in the Store, per
// environment variable overrides always win. With the overrides unset, it
// returns exactly what Store.Load returned.
func ResolveAuth(store *Store, host string) (*StoredCredentials, error) {
	if token := os.Getenv("MSB_REGISTRY_TOKEN"); token != "" {
		creds := Bearer(token)
		return &creds, nil
	}

	username := os.Getenv("MSB_REGISTRY_USERNAME")
	password := os.Getenv("MSB_REGISTRY_PASSWORD")
	if username != "" && password != "" {
		creds := Basic(username, password)
		return &creds, nil
	}

	return store.Load(host)
}
