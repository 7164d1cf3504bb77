package registry

import (
	"github.com/google/go-containerregistry/pkg/authn"

	"github.com/microsandbox/msbcore/credentials"
)

// resolveAuthenticator turns whatever ResolveAuth finds for host into
// the authn.Authenticator go-containerregistry's transport expects,
// falling back to anonymous when nothing is stored and no environment
// override is set.
func resolveAuthenticator(store *credentials.Store, host string) (authn.Authenticator, error) {
	creds, err := credentials.ResolveAuth(store, host)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return authn.Anonymous, nil
	}

	switch creds.Kind {
	case credentials.KindBearer:
		return &authn.Bearer{Token: creds.Token}, nil
	case credentials.KindBasic:
		return &authn.Basic{Username: creds.Username, Password: creds.Password}, nil
	default:
		return authn.Anonymous, nil
	}
}
