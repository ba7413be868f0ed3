package azure

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/split-connect/split-backend/internal/config"
	"github.com/split-connect/split-backend/pkg/checksum"
)

type storedBlob struct {
	content  []byte
	metadata map[string]string
}

// newTestBackend points a client at a handler that imitates enough of the
// Blob REST API for uploads and property lookups.
func newTestBackend(t *testing.T) (*Backend, map[string]*storedBlob, *sync.Mutex) {
	t.Helper()
	store := map[string]*storedBlob{}
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for k, v := range r.Header {
				lk := strings.ToLower(k)
				if strings.HasPrefix(lk, "x-ms-meta-") && len(v) > 0 {
					meta[strings.TrimPrefix(lk, "x-ms-meta-")] = v[0]
				}
			}
			store[key] = &storedBlob{content: data, metadata: meta}
			w.WriteHeader(http.StatusCreated)
		case http.MethodHead:
			if _, ok := store[key]; ok {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Header().Set("x-ms-error-code", "BlobNotFound")
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to create azblob client: %v", err)
	}
	return &Backend{client: client, containerName: "audit"}, store, &mu
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AzureArchiveConfig
	}{
		{"missing account", config.AzureArchiveConfig{AccountKey: "a2V5", ContainerName: "audit"}},
		{"missing key", config.AzureArchiveConfig{AccountName: "acct", ContainerName: "audit"}},
		{"missing container", config.AzureArchiveConfig{AccountName: "acct", AccountKey: "a2V5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("New() = nil error, want error")
			}
		})
	}
}

func TestNew_ServiceURLOverride(t *testing.T) {
	b, err := New(&config.AzureArchiveConfig{
		AccountName:   "devstoreaccount1",
		AccountKey:    "a2V5",
		ContainerName: "audit",
		ServiceURL:    "http://127.0.0.1:10000/devstoreaccount1/",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if got := b.client.URL(); got != "http://127.0.0.1:10000/devstoreaccount1/" {
		t.Errorf("URL() = %q", got)
	}
}

func TestUploadAndExists(t *testing.T) {
	b, store, mu := newTestBackend(t)
	ctx := context.Background()
	data := []byte(`[{"id":"acct_1"}]`)

	ok, err := b.Exists(ctx, "audit/snap.json")
	if err != nil || ok {
		t.Fatalf("Exists(before upload) = %v, %v; want false, nil", ok, err)
	}

	res, err := b.Upload(ctx, "audit/snap.json", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", res.Size, len(data))
	}
	want := checksum.SHA256Hex(data)
	if res.Checksum != want {
		t.Errorf("Checksum = %q, want %q", res.Checksum, want)
	}

	mu.Lock()
	blob, found := store["audit/audit/snap.json"]
	mu.Unlock()
	if !found {
		t.Fatalf("blob not stored; have %v", keys(store, mu))
	}
	if !bytes.Equal(blob.content, data) {
		t.Errorf("content = %q, want %q", blob.content, data)
	}
	if blob.metadata["sha256"] != want {
		t.Errorf("metadata sha256 = %q, want %q", blob.metadata["sha256"], want)
	}

	ok, err = b.Exists(ctx, "audit/snap.json")
	if err != nil || !ok {
		t.Errorf("Exists(after upload) = %v, %v; want true, nil", ok, err)
	}
}

func keys(store map[string]*storedBlob, mu *sync.Mutex) []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(store))
	for k := range store {
		out = append(out, k)
	}
	return out
}
