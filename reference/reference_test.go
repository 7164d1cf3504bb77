package reference

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Reference
		wantErr bool
	}{
		{
			name:  "bare name defaults host, tag and library prefix",
			input: "alpine",
			want:  Reference{Host: "docker.io", Repository: "library/alpine", Tag: "latest"},
		},
		{
			name:  "namespaced repo on docker hub",
			input: "org/app:1.0",
			want:  Reference{Host: "docker.io", Repository: "org/app", Tag: "1.0"},
		},
		{
			name:  "explicit registry",
			input: "ghcr.io/org/app:1.0",
			want:  Reference{Host: "ghcr.io", Repository: "org/app", Tag: "1.0"},
		},
		{
			name:  "index.docker.io folds to docker.io",
			input: "index.docker.io/library/nginx:latest",
			want:  Reference{Host: "docker.io", Repository: "library/nginx", Tag: "latest"},
		},
		{
			name:  "registry with port",
			input: "localhost:5000/app:1.0",
			want:  Reference{Host: "localhost:5000", Repository: "app", Tag: "1.0"},
		},
		{
			name:  "digest reference leaves tag unset",
			input: "alpine@sha256:1111111111111111111111111111111111111111111111111111111111111111",
			want:  Reference{Host: "docker.io", Repository: "library/alpine", Digest: "sha256:1111111111111111111111111111111111111111111111111111111111111111"},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "invalid digest algorithm",
			input:   "alpine@md5:abc",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got none", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRenderRoundTrip(t *testing.T) {
	inputs := []string{
		"alpine",
		"org/app:1.0",
		"ghcr.io/org/app:1.0",
		"localhost:5000/app:1.0",
		"docker.io/library/nginx:stable-alpine3.23",
		"alpine@sha256:1111111111111111111111111111111111111111111111111111111111111111",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			r1, err := Parse(in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", in, err)
			}
			r2, err := Parse(r1.Render())
			if err != nil {
				t.Fatalf("Parse(render) for %q: %v", in, err)
			}
			if r1 != r2 {
				t.Errorf("round trip mismatch for %q: %+v != %+v", in, r1, r2)
			}
		})
	}
}

func TestRegistryURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"ghcr.io/org/app:1.0", "https://ghcr.io"},
		{"org/app:1.0", "https://docker.io"},
		{"index.docker.io/library/nginx:latest", "https://docker.io"},
	}

	for _, tt := range tests {
		ref, err := Parse(tt.input)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.input, err)
		}
		if got := ref.RegistryURL(); got != tt.want {
			t.Errorf("RegistryURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestHostNormalizationIsAFunctionOfHostOnly(t *testing.T) {
	variants := []string{"ghcr.io/x:1", "GHCR.IO/x:1", "https://ghcr.io/x:1", "ghcr.io/x:1"}
	for _, v := range variants {
		ref, err := Parse(v)
		if err != nil {
			t.Fatalf("Parse(%q): %v", v, err)
		}
		if got := ref.RegistryURL(); got != "https://ghcr.io" {
			t.Errorf("Parse(%q).RegistryURL() = %q, want https://ghcr.io", v, got)
		}
	}
}
