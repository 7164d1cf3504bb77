package layers

import (
	"context"
	"os"
	"testing"
)

func TestExtractAllSucceeds(t *testing.T) {
	store := newTestStore(t)

	base := New("sha256:base", MediaTypeImageLayerGzip, store, nil)
	writeTar(t, store, base.Digest, buildTarGz(map[string][]byte{"base.txt": []byte("b")}, []string{"base.txt"}))

	top := New("sha256:top", MediaTypeImageLayerGzip, store, nil)
	writeTar(t, store, top.Digest, buildTarGz(map[string][]byte{"top.txt": []byte("t")}, []string{"top.txt"}))

	if err := ExtractAll(context.Background(), []*Layer{base, top}); err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}

	for _, l := range []*Layer{base, top} {
		if has, _ := store.HasLayer(l.Digest); !has {
			t.Errorf("layer %s not extracted", l.Digest)
		}
	}
}

func TestExtractAllKeepsSucceededLayersOnPartialFailure(t *testing.T) {
	store := newTestStore(t)

	good := New("sha256:good", MediaTypeImageLayerGzip, store, nil)
	writeTar(t, store, good.Digest, buildTarGz(map[string][]byte{"f": []byte("x")}, []string{"f"}))

	bad := New("sha256:bad", MediaTypeImageLayerGzip, store, nil)
	os.WriteFile(store.TarPath(bad.Digest), []byte("not gzip"), 0o644)

	err := ExtractAll(context.Background(), []*Layer{good, bad})
	if err == nil {
		t.Fatal("expected ExtractAll to report the bad layer's error")
	}

	if has, _ := store.HasLayer(good.Digest); !has {
		t.Error("expected the successfully extracted layer to remain on disk")
	}
	if has, _ := store.HasLayer(bad.Digest); has {
		t.Error("expected the failed layer's partial directory to be cleaned up")
	}
}
