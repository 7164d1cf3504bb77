// Package types holds the small set of value types shared across the
// registry, layers, catalog and image packages.
package types

import (
	"fmt"
	"strings"
)

// Platform identifies a target OS/architecture pair used to select a
// manifest entry out of an image index. The core defaults OS to "linux"
// since the downstream hypervisor only mounts Linux root filesystems,
// but Platform itself stays general so index selection logic can be
// exercised against arbitrary entries.
type Platform struct {
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	Variant      string `json:"variant,omitempty"`
}

func (p Platform) String() string {
	if p.Variant != "" {
		return fmt.Sprintf("%s/%s/%s", p.OS, p.Architecture, p.Variant)
	}
	return fmt.Sprintf("%s/%s", p.OS, p.Architecture)
}

// ParsePlatform parses an "os/arch[/variant]" string, defaulting to
// linux/amd64 when too few components are given.
func ParsePlatform(platform string) Platform {
	parts := strings.Split(platform, "/")
	if len(parts) < 2 {
		return Platform{OS: "linux", Architecture: "amd64"}
	}

	p := Platform{
		OS:           parts[0],
		Architecture: parts[1],
	}

	if len(parts) > 2 {
		p.Variant = parts[2]
	}

	return p
}

// LinuxPlatform returns linux/amd64, the platform selector a pull uses
// when the caller does not set one, regardless of the host the core
// runs on.
func LinuxPlatform() Platform {
	return Platform{OS: "linux", Architecture: "amd64"}
}

// Matches reports whether p and other agree on each of OS, architecture
// and variant that both specify; a field left empty on either side
// matches anything.
func (p Platform) Matches(other Platform) bool {
	if p.OS != "" && other.OS != "" && p.OS != other.OS {
		return false
	}
	if p.Architecture != "" && other.Architecture != "" && p.Architecture != other.Architecture {
		return false
	}
	if p.Variant != "" && other.Variant != "" && p.Variant != other.Variant {
		return false
	}
	return true
}
