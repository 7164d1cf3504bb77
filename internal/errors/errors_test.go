package errors

import (
	"errors"
	"strings"
	"testing"
)

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

func TestCoreError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CoreError
		expected string
	}{
		{
			name: "registry and digest context",
			err: &CoreError{
				Category:  ErrorCategoryDigestMismatch,
				Severity:  ErrorSeverityMedium,
				Operation: "fetch_digest_blob",
				Registry:  "registry-1.docker.io",
				Digest:    "sha256:deadbeef",
				Message:   "computed digest does not match advertised digest",
			},
			expected: "[digest_mismatch:medium] fetch_digest_blob on registry-1.docker.io (digest sha256:deadbeef): computed digest does not match advertised digest",
		},
		{
			name: "registry only context",
			err: &CoreError{
				Category:  ErrorCategoryRegistryIO,
				Severity:  ErrorSeverityMedium,
				Operation: "fetch_manifest",
				Registry:  "registry-1.docker.io",
				Message:   "unexpected status 503",
			},
			expected: "[registry_io:medium] fetch_manifest on registry-1.docker.io: unexpected status 503",
		},
		{
			name: "operation only context",
			err: &CoreError{
				Category:  ErrorCategoryCatalog,
				Severity:  ErrorSeverityLow,
				Operation: "migrate",
				Message:   "failed to apply migration 0003",
			},
			expected: "[catalog:low] migrate operation: failed to apply migration 0003",
		},
		{
			name: "minimal context",
			err: &CoreError{
				Category: ErrorCategoryUnknown,
				Severity: ErrorSeverityMedium,
				Message:  "unclassified error",
			},
			expected: "[unknown:medium] unclassified error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCoreError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewErrorBuilder().Cause(cause).Message("io failure").Build()

	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestCoreError_IsCritical(t *testing.T) {
	critical := NewErrorBuilder().Severity(ErrorSeverityCritical).Message("x").Build()
	if !critical.IsCritical() {
		t.Error("expected critical severity to report IsCritical() == true")
	}

	low := NewErrorBuilder().Severity(ErrorSeverityLow).Message("x").Build()
	if low.IsCritical() {
		t.Error("expected low severity to report IsCritical() == false")
	}
}

func TestCoreError_GetUserFriendlyMessage(t *testing.T) {
	err := NewErrorBuilder().
		Message("pull failed").
		Suggestion("check network connectivity").
		Build()

	got := err.GetUserFriendlyMessage()
	if !contains(got, "pull failed") || !contains(got, "check network connectivity") {
		t.Errorf("GetUserFriendlyMessage() = %q, missing message or suggestion", got)
	}
}

func TestErrorBuilder_Build(t *testing.T) {
	err := NewErrorBuilder().
		Category(ErrorCategoryRegistryAuth).
		Severity(ErrorSeverityCritical).
		Operation("fetch_manifest").
		Registry("registry-1.docker.io").
		Message("401 Unauthorized").
		Retryable(false).
		Suggestion("run login again").
		Build()

	if err.Category != ErrorCategoryRegistryAuth {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryRegistryAuth)
	}
	if err.Severity != ErrorSeverityCritical {
		t.Errorf("Severity = %v, want %v", err.Severity, ErrorSeverityCritical)
	}
	if err.Retryable {
		t.Error("expected Retryable == false")
	}
	if err.Timestamp.IsZero() {
		t.Error("expected Timestamp to be set")
	}
	if err.StackTrace == "" {
		t.Error("expected StackTrace to be captured")
	}
}

func TestErrorBuilder_AutoCategorization(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *CoreError
		expected ErrorCategory
	}{
		{
			name: "keyring operation",
			build: func() *CoreError {
				return NewErrorBuilder().Operation("keyring_store").Message("failed to write secret").Build()
			},
			expected: ErrorCategoryKeyring,
		},
		{
			name: "reference parsing",
			build: func() *CoreError {
				return NewErrorBuilder().Operation("parse_reference").Message("empty repository path").Build()
			},
			expected: ErrorCategoryInvalidReference,
		},
		{
			name: "manifest operation",
			build: func() *CoreError {
				return NewErrorBuilder().Operation("fetch_manifest").Message("unsupported schemaVersion").Build()
			},
			expected: ErrorCategoryUnsupportedManifest,
		},
		{
			name: "platform selection",
			build: func() *CoreError {
				return NewErrorBuilder().Operation("select_platform").Message("no entry for linux/arm64").Build()
			},
			expected: ErrorCategoryNoMatchingPlatform,
		},
		{
			name: "catalog migration",
			build: func() *CoreError {
				return NewErrorBuilder().Operation("catalog_migrate").Message("dirty migration state").Build()
			},
			expected: ErrorCategoryCatalog,
		},
		{
			name: "layer extraction",
			build: func() *CoreError {
				return NewErrorBuilder().Operation("extract_layer").Message("malformed tar header").Build()
			},
			expected: ErrorCategoryLayerExtraction,
		},
		{
			name: "blob store io",
			build: func() *CoreError {
				return NewErrorBuilder().Message("failed to create blob directory").Build()
			},
			expected: ErrorCategoryBlobStore,
		},
		{
			name: "registry io by message",
			build: func() *CoreError {
				return NewErrorBuilder().Message("connection to registry timed out").Build()
			},
			expected: ErrorCategoryRegistryIO,
		},
		{
			name: "auth by message",
			build: func() *CoreError {
				return NewErrorBuilder().Message("credential rejected: unauthorized").Build()
			},
			expected: ErrorCategoryRegistryAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build()
			if err.Category != tt.expected {
				t.Errorf("Category = %v, want %v", err.Category, tt.expected)
			}
		})
	}
}

func TestIsRetryableCategory(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		retryable bool
	}{
		{ErrorCategoryRegistryIO, true},
		{ErrorCategoryDigestMismatch, true},
		{ErrorCategoryRegistryAuth, false},
		{ErrorCategoryInvalidReference, false},
		{ErrorCategoryUnsupportedManifest, false},
		{ErrorCategoryNoMatchingPlatform, false},
		{ErrorCategoryKeyring, false},
	}

	for _, tt := range tests {
		err := NewErrorBuilder().Category(tt.category).Message("x").Build()
		if err.Retryable != tt.retryable {
			t.Errorf("category %v: Retryable = %v, want %v", tt.category, err.Retryable, tt.retryable)
		}
	}
}

func TestNewRegistryIOError(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := NewRegistryIOError("fetch_manifest", "registry-1.docker.io", "network failure", cause)

	if err.Category != ErrorCategoryRegistryIO {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryRegistryIO)
	}
	if err.Registry != "registry-1.docker.io" {
		t.Errorf("Registry = %v, want registry-1.docker.io", err.Registry)
	}
	if !err.Retryable {
		t.Error("expected registry IO error to be retryable")
	}
	if err.Unwrap() != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestNewRegistryAuthError(t *testing.T) {
	err := NewRegistryAuthError("fetch_manifest", "registry-1.docker.io", "401 Unauthorized", nil)

	if err.Category != ErrorCategoryRegistryAuth {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryRegistryAuth)
	}
	if !err.IsCritical() {
		t.Error("expected auth error to be critical")
	}
	if err.Retryable {
		t.Error("expected auth error to not be retryable")
	}
}

func TestNewInvalidReferenceError(t *testing.T) {
	err := NewInvalidReferenceError("parse_reference", "empty repository path", nil)

	if err.Category != ErrorCategoryInvalidReference {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryInvalidReference)
	}
	if err.Retryable {
		t.Error("expected invalid reference error to not be retryable")
	}
}

func TestNewDigestMismatchError(t *testing.T) {
	err := NewDigestMismatchError("registry-1.docker.io", "sha256:abc123", "digest mismatch")

	if err.Category != ErrorCategoryDigestMismatch {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryDigestMismatch)
	}
	if err.Digest != "sha256:abc123" {
		t.Errorf("Digest = %v, want sha256:abc123", err.Digest)
	}
}

func TestNewCatalogError(t *testing.T) {
	cause := errors.New("database is locked")
	err := NewCatalogError("upsert_image", "failed to record image", cause)

	if err.Category != ErrorCategoryCatalog {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryCatalog)
	}
	if err.Unwrap() != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestNewBlobStoreError(t *testing.T) {
	err := NewBlobStoreError("write_blob", "sha256:abc123", "failed to write blob to disk", nil)

	if err.Category != ErrorCategoryBlobStore {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryBlobStore)
	}
	if err.Digest != "sha256:abc123" {
		t.Errorf("Digest = %v, want sha256:abc123", err.Digest)
	}
}

func TestNewLayerExtractionError(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := NewLayerExtractionError("sha256:abc123", "truncated tar stream", cause)

	if err.Category != ErrorCategoryLayerExtraction {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryLayerExtraction)
	}
	if err.Operation != "extract" {
		t.Errorf("Operation = %v, want extract", err.Operation)
	}
}

func TestNewUnsupportedManifestError(t *testing.T) {
	err := NewUnsupportedManifestError("fetch_manifest_and_config", "schemaVersion 1 is not supported", nil)

	if err.Category != ErrorCategoryUnsupportedManifest {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryUnsupportedManifest)
	}
	if err.Retryable {
		t.Error("expected unsupported manifest error to not be retryable")
	}
}

func TestNewNoMatchingPlatformError(t *testing.T) {
	err := NewNoMatchingPlatformError("ghcr.io", "no entry for linux/amd64")

	if err.Category != ErrorCategoryNoMatchingPlatform {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryNoMatchingPlatform)
	}
	if err.Registry != "ghcr.io" {
		t.Errorf("Registry = %v, want ghcr.io", err.Registry)
	}
}

func TestNewKeyringError(t *testing.T) {
	err := NewKeyringError("keyring_load", "failed to read secret", nil)

	if err.Category != ErrorCategoryKeyring {
		t.Errorf("Category = %v, want %v", err.Category, ErrorCategoryKeyring)
	}
	if !err.IsCritical() {
		t.Error("expected keyring error to be critical")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "op") != nil {
		t.Error("expected WrapError(nil) to return nil")
	}

	plain := errors.New("boom")
	wrapped := WrapError(plain, "fetch_manifest")
	if wrapped.Operation != "fetch_manifest" {
		t.Errorf("Operation = %v, want fetch_manifest", wrapped.Operation)
	}
	if wrapped.Message != "boom" {
		t.Errorf("Message = %v, want boom", wrapped.Message)
	}

	already := NewRegistryIOError("fetch_manifest", "registry-1.docker.io", "timeout", nil)
	if WrapError(already, "other_op") != already {
		t.Error("expected WrapError to pass through an existing *CoreError unchanged")
	}
}

func TestErrorCollector(t *testing.T) {
	c := NewErrorCollector()
	if c.HasErrors() {
		t.Error("expected new collector to have no errors")
	}

	first := NewRegistryIOError("fetch_manifest", "registry-1.docker.io", "timeout", nil)
	second := NewRegistryAuthError("fetch_manifest", "registry-1.docker.io", "401", nil)

	c.AddError(first)
	c.AddError(second)
	c.AddContext("reference", "docker.io/library/alpine:latest")

	if !c.HasErrors() {
		t.Error("expected collector to report errors after AddError")
	}
	if !c.HasCriticalErrors() {
		t.Error("expected collector to detect the critical auth error")
	}
	if len(c.GetErrors()) != 2 {
		t.Errorf("GetErrors() len = %d, want 2", len(c.GetErrors()))
	}
	if c.GetContext()["reference"] != "docker.io/library/alpine:latest" {
		t.Error("expected context to be preserved")
	}
	if c.ToError() != first {
		t.Error("expected ToError() to return the earliest-originating error")
	}
}
