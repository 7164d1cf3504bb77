// Package reference parses and normalizes OCI image references of the
// form [host/]repository[:tag|@digest], the unit every other package
// in this module keys its work off of.
package reference

import (
	"fmt"
	"os"
	"strings"

	coreerrors "github.com/microsandbox/msbcore/internal/errors"
)

const (
	// DefaultRegistryDomain is substituted for a reference with no host
	// component, unless overridden by OCI_REGISTRY_DOMAIN.
	DefaultRegistryDomain = "docker.io"

	// DefaultTag is substituted for a reference with neither a tag nor
	// a digest.
	DefaultTag = "latest"

	// dockerIndexHost is the historical Docker Hub API host. normalizeHost
	// rewrites it to DefaultRegistryDomain, so references written against
	// it are dialed, rendered and credentialed as docker.io.
	dockerIndexHost = "index.docker.io"
)

// Reference identifies an image in a registry: a normalized host, a
// repository path, and either a tag or a content digest (never both).
// It is an immutable value created by Parse.
type Reference struct {
	Host       string
	Repository string
	Tag        string
	Digest     string
}

// Parse parses s into a Reference, applying OCI Distribution Spec
// grammar for the host, repository and tag/digest components. A
// missing host substitutes the configured default registry (the
// OCI_REGISTRY_DOMAIN environment variable, or docker.io); a missing
// tag-and-digest defaults the tag to "latest"; a single-segment
// repository path is prefixed with "library/" for the Docker Hub
// default, matching how bare names like "alpine" resolve on Hub.
func Parse(s string) (Reference, error) {
	if s == "" {
		return Reference{}, coreerrors.NewInvalidReferenceError("parse_reference", "reference cannot be empty", nil)
	}

	ref := Reference{}
	rest := strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")

	if idx := strings.Index(rest, "@"); idx != -1 {
		ref.Digest = rest[idx+1:]
		rest = rest[:idx]
		if err := validateDigest(ref.Digest); err != nil {
			return Reference{}, coreerrors.NewInvalidReferenceError("parse_reference", "invalid digest: "+err.Error(), err)
		}
	} else if idx := lastTagColon(rest); idx != -1 {
		ref.Tag = rest[idx+1:]
		rest = rest[:idx]
		if err := validateTag(ref.Tag); err != nil {
			return Reference{}, coreerrors.NewInvalidReferenceError("parse_reference", "invalid tag: "+err.Error(), err)
		}
	}

	if ref.Tag == "" && ref.Digest == "" {
		ref.Tag = DefaultTag
	}

	host, repo := splitHostRepository(rest)
	if host == "" {
		host = defaultRegistryDomain()
	}
	ref.Host = normalizeHost(host)

	if ref.Host == DefaultRegistryDomain && !strings.Contains(repo, "/") {
		repo = "library/" + repo
	}
	if err := validateRepository(repo); err != nil {
		return Reference{}, coreerrors.NewInvalidReferenceError("parse_reference", "invalid repository: "+err.Error(), err)
	}
	ref.Repository = repo

	return ref, nil
}

// Render is the deterministic inverse of Parse; parse(render(r)) == r
// for every valid r, and it is used as the catalog's reference key.
func (r Reference) Render() string {
	var b strings.Builder

	if r.Host != defaultRegistryDomain() {
		b.WriteString(r.Host)
		b.WriteString("/")
	}
	b.WriteString(r.Repository)

	if r.Digest != "" {
		b.WriteString("@")
		b.WriteString(r.Digest)
	} else {
		b.WriteString(":")
		if r.Tag != "" {
			b.WriteString(r.Tag)
		} else {
			b.WriteString(DefaultTag)
		}
	}

	return b.String()
}

// RegistryURL returns the base URL the Registry Client dials for this
// reference: https://<normalized-host>.
func (r Reference) RegistryURL() string {
	return "https://" + r.Host
}

// CredentialKey is the host under which CredentialStore looks up and
// stores this reference's credentials. index.docker.io is folded into
// docker.io at normalization time, so the two already share one Host
// value and this is just an alias for callers that want the intent
// spelled out.
func (r Reference) CredentialKey() string {
	return r.Host
}

func defaultRegistryDomain() string {
	if v := os.Getenv("OCI_REGISTRY_DOMAIN"); v != "" {
		return normalizeHost(v)
	}
	return DefaultRegistryDomain
}

// normalizeHost lowercases the host and strips a scheme and trailing
// slash, idempotently: normalizeHost(normalizeHost(h)) == normalizeHost(h).
// index.docker.io folds into docker.io here rather than only at the
// credential-key boundary, so a reference parsed against either host
// renders, and dials, identically.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	host = strings.ToLower(host)
	if host == dockerIndexHost {
		host = DefaultRegistryDomain
	}
	return host
}

// splitHostRepository decides whether the first path segment of rest
// is a registry host or part of the repository path. It follows the
// same heuristic as the Docker reference grammar: a first segment is a
// host only if it contains a "." or ":" (domain or domain:port), or is
// exactly "localhost".
func splitHostRepository(rest string) (host, repo string) {
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return "", parts[0]
	}

	first := parts[0]
	if first == "localhost" || strings.ContainsAny(first, ".:") {
		return first, parts[1]
	}

	return "", rest
}

// lastTagColon finds the colon that separates a tag from the
// repository path, correctly distinguishing it from a colon used for a
// registry:port prefix (whose repository portion always contains a
// slash after the colon).
func lastTagColon(rest string) int {
	idx := strings.LastIndex(rest, ":")
	if idx == -1 {
		return -1
	}
	if strings.Contains(rest[idx+1:], "/") {
		return -1
	}
	return idx
}

func validateDigest(d string) error {
	parts := strings.SplitN(d, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return fmt.Errorf("digest must be in the form algorithm:hex, got %q", d)
	}
	switch parts[0] {
	case "sha256", "sha512":
	default:
		return fmt.Errorf("unsupported digest algorithm %q", parts[0])
	}
	for _, c := range parts[1] {
		if !isHex(c) {
			return fmt.Errorf("digest hex contains invalid character %q", c)
		}
	}
	return nil
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func validateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("tag cannot be empty")
	}
	if len(tag) > 128 {
		return fmt.Errorf("tag too long (max 128 characters)")
	}
	if strings.HasPrefix(tag, ".") || strings.HasPrefix(tag, "-") {
		return fmt.Errorf("tag cannot start with '.' or '-'")
	}
	for _, c := range tag {
		if !isTagChar(c) {
			return fmt.Errorf("tag contains invalid character %q", c)
		}
	}
	return nil
}

func isTagChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '.' || c == '-' || c == '_'
}

func validateRepository(repo string) error {
	if repo == "" || len(repo) > 255 {
		return fmt.Errorf("repository length invalid")
	}
	for _, component := range strings.Split(repo, "/") {
		if component == "" {
			return fmt.Errorf("repository component cannot be empty")
		}
		if strings.HasPrefix(component, ".") || strings.HasPrefix(component, "-") {
			return fmt.Errorf("repository component cannot start with '.' or '-'")
		}
		for _, c := range component {
			if !isTagChar(c) {
				return fmt.Errorf("repository component contains invalid character %q", c)
			}
		}
	}
	return nil
}
