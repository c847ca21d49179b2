package bundle

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/afero"

	"github.com/vango-dev/syncore/internal/errors"
)

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"eager", true},
		{"app-widgets_2", true},
		{"", false},
		{"..", false},
		{"../etc/passwd", false},
		{"a/b", false},
		{`a\b`, false},
	}
	for _, tt := range tests {
		if got := ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFSSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "b/x.json", []byte(`{"types":{}}`), 0o644)
	src := &FSSource{Fs: fs, Dir: "b"}

	data, err := src.Fetch(context.Background(), "x")
	if err != nil || string(data) != `{"types":{}}` {
		t.Errorf("Fetch(x) = %q, %v", data, err)
	}
	if _, err := src.Fetch(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch(missing) error = %v, want not found", err)
	}
	if _, err := src.Fetch(context.Background(), "../x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch(../x) error = %v, want not found", err)
	}
}

type fakeS3 struct {
	objects map[string]string
	keys    []string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+key)
	body, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3Source(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"bundles/x.json": `{"types":{"demo.Button":{}}}`}}
	src := NewS3Source(client, "assets", "bundles/")

	data, err := src.Fetch(context.Background(), "x")
	if err != nil {
		t.Fatalf("Fetch(x) error = %v", err)
	}
	if !strings.Contains(string(data), "demo.Button") {
		t.Errorf("Fetch(x) = %s", data)
	}
	if client.keys[0] != "assets/bundles/x.json" {
		t.Errorf("requested %q", client.keys[0])
	}

	_, err = src.Fetch(context.Background(), "y")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch(y) error = %v, want not found", err)
	}
	var nsk *types.NoSuchKey
	if !stderrors.As(err, &nsk) {
		t.Error("NoSuchKey cause not preserved")
	}
}

func TestNewS3Client(t *testing.T) {
	c := NewS3Client(S3Config{
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	opts := c.Options()
	if opts.Region != "us-east-1" || !opts.UsePathStyle {
		t.Errorf("options = %+v", opts)
	}
	if aws.ToString(opts.BaseEndpoint) != "http://localhost:9000" {
		t.Errorf("BaseEndpoint = %q", aws.ToString(opts.BaseEndpoint))
	}
	creds, err := opts.Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID != "key" {
		t.Errorf("Credentials = %+v, %v", creds, err)
	}
}

func TestHTTPSource(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/app/bundles/x":
			_, _ = io.WriteString(w, `{"types":{}}`)
		case "/app/bundles/broken":
			w.WriteHeader(http.StatusBadRequest)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	src, err := NewHTTPSource(srv.URL+"/app", WithHTTPClient(client))
	if err != nil {
		t.Fatal(err)
	}

	data, err := src.Fetch(context.Background(), "x")
	if err != nil || string(data) != `{"types":{}}` {
		t.Errorf("Fetch(x) = %q, %v", data, err)
	}
	if _, err := src.Fetch(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch(missing) error = %v, want not found", err)
	}
	if _, err := src.Fetch(context.Background(), "broken"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch(broken) error = %v, want a non-404 failure", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if paths[0] != "/app/bundles/x" {
		t.Errorf("path = %q", paths[0])
	}
}

func TestCachedSource(t *testing.T) {
	inner := newCountingSource(map[string]string{"a": "A", "b": "B", "c": "C"})
	src, err := NewCachedSource(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, name := range []string{"a", "a", "b", "a", "c", "b"} {
		if _, err := src.Fetch(ctx, name); err != nil {
			t.Fatalf("Fetch(%s) error = %v", name, err)
		}
	}
	// c evicted b (least recently used), so b was fetched twice.
	if inner.fetches["a"] != 1 || inner.fetches["b"] != 2 || inner.fetches["c"] != 1 {
		t.Errorf("fetches = %v", inner.fetches)
	}
	if src.Len() != 2 {
		t.Errorf("Len() = %d, want 2", src.Len())
	}

	if _, err := src.Fetch(ctx, "zzz"); err == nil {
		t.Error("Fetch(zzz) error = nil")
	}
	if src.Len() != 2 {
		t.Error("a failure was cached")
	}

	src.Purge()
	if src.Len() != 0 {
		t.Errorf("Len() after Purge = %d", src.Len())
	}
	if _, err := NewCachedSource(inner, 0); err == nil {
		t.Error("NewCachedSource(size 0) error = nil")
	}
}
