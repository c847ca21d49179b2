package bundle

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"

	"github.com/vango-dev/syncore/internal/errors"
)

// ErrNotFound is returned by sources that have no payload for a bundle.
var ErrNotFound = errors.New("S402")

// FileExt is the extension of bundle files.
const FileExt = ".json"

// Source fetches bundle payloads. Implementations must be safe for
// concurrent use.
type Source interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, name string) ([]byte, error)

// Fetch calls f(ctx, name).
func (f SourceFunc) Fetch(ctx context.Context, name string) ([]byte, error) {
	return f(ctx, name)
}

// ValidName reports whether name can be used as a bundle file name.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

func notFound(name string, cause error) error {
	return errors.New("S402").WithMessagef("bundle %s not found", name).Wrap(cause)
}

// FSSource reads <Dir>/<name>.json from a filesystem.
type FSSource struct {
	Fs  afero.Fs
	Dir string
}

// NewFSSource creates a source over dir on the OS filesystem.
func NewFSSource(dir string) *FSSource {
	return &FSSource{Fs: afero.NewOsFs(), Dir: dir}
}

// Fetch reads the bundle file.
func (s *FSSource) Fetch(_ context.Context, name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, notFound(name, fmt.Errorf("invalid bundle name %q", name))
	}
	data, err := afero.ReadFile(s.Fs, path.Join(s.Dir, name+FileExt))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, notFound(name, err)
		}
		return nil, fmt.Errorf("bundle: reading %s: %w", name, err)
	}
	return data, nil
}

// GetObjectAPI is the part of the S3 client S3Source uses.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures NewS3Client.
type S3Config struct {
	Region   string
	Endpoint string

	// AccessKeyID and SecretAccessKey are optional static credentials.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle addresses buckets by path, as S3-compatible stores
	// such as MinIO expect.
	UsePathStyle bool
}

// NewS3Client creates an S3 client from cfg.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Source:          "syncore",
		}
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		})
	}
	return s3.New(opts)
}

// S3Source reads <Prefix><name>.json objects from a bucket.
type S3Source struct {
	client GetObjectAPI
	bucket string
	prefix string
}

// NewS3Source creates a source reading from bucket.
func NewS3Source(client GetObjectAPI, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

// Fetch downloads the bundle object.
func (s *S3Source) Fetch(ctx context.Context, name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, notFound(name, fmt.Errorf("invalid bundle name %q", name))
	}
	key := s.prefix + name + FileExt
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if stderrors.As(err, &nsk) {
			return nil, notFound(name, err)
		}
		return nil, fmt.Errorf("bundle: s3 get %s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("bundle: reading s3 object %s: %w", key, err)
	}
	return data, nil
}

// HTTPSource fetches <BaseURL>/bundles/<name> with retries.
type HTTPSource struct {
	baseURL *url.URL
	client  *retryablehttp.Client
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the underlying retrying client.
func WithHTTPClient(c *retryablehttp.Client) HTTPOption {
	return func(s *HTTPSource) {
		s.client = c
	}
}

// WithHTTPLogger routes retry logging to logger.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(s *HTTPSource) {
		s.client.Logger = logger.With("component", "bundle_http")
	}
}

// NewHTTPSource creates a source for the server at baseURL.
func NewHTTPSource(baseURL string, opts ...HTTPOption) (*HTTPSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("bundle: parsing base url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	s := &HTTPSource{baseURL: u, client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fetch downloads the bundle.
func (s *HTTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, notFound(name, fmt.Errorf("invalid bundle name %q", name))
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.baseURL.JoinPath("bundles", name).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("bundle: creating request: %w", err)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bundle: fetching %s: %w", name, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("bundle: reading %s: %w", name, err)
	}

	switch res.StatusCode {
	case http.StatusOK:
		return data, nil
	case http.StatusNotFound:
		return nil, notFound(name, fmt.Errorf("status %s", res.Status))
	default:
		return nil, fmt.Errorf("bundle: fetching %s: status %s", name, res.Status)
	}
}

// CachedSource keeps the most recently fetched payloads in memory.
// Failures are not cached.
type CachedSource struct {
	source Source
	cache  *lru.Cache[string, []byte]
}

// NewCachedSource wraps source with an LRU cache of size entries.
func NewCachedSource(source Source, size int) (*CachedSource, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("bundle: creating cache: %w", err)
	}
	return &CachedSource{source: source, cache: cache}, nil
}

// Fetch returns the cached payload or fetches and caches it.
func (s *CachedSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if data, ok := s.cache.Get(name); ok {
		return data, nil
	}
	data, err := s.source.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cache.Add(name, data)
	return data, nil
}

// Purge empties the cache.
func (s *CachedSource) Purge() {
	s.cache.Purge()
}

// Len returns the number of cached payloads.
func (s *CachedSource) Len() int {
	return s.cache.Len()
}
