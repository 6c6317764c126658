package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackFile = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	environmentEnv      = "CART_SECURITY_ENVIRONMENT"
)

var (
	// ErrInvalidReference indicates the reference is not a secret:// or sm:// URI.
	ErrInvalidReference = errors.New("secrets: invalid reference")
	// ErrSecretNotFound is returned when neither Secret Manager nor the fallback file has the value.
	ErrSecretNotFound = errors.New("secrets: secret not found")
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references against Secret Manager with an in-memory cache.
// When Secret Manager is unreachable or denies access the local fallback file is consulted.
type Fetcher struct {
	client      secretManagerClient
	ownsClient  bool
	logger      *zap.Logger
	environment string
	projects    map[string]string
	project     string
	pins        map[string]string
	ttl         time.Duration
	now         func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.Mutex
	cache map[string]cachedSecret

	lookups metric.Int64Counter
	latency metric.Float64Histogram
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// Option customises the fetcher.
type Option func(*Fetcher)

// WithSecretManagerClient injects a client, mainly for tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDefaultProject sets the project used when a reference names none.
func WithDefaultProject(project string) Option {
	return func(f *Fetcher) { f.project = strings.TrimSpace(project) }
}

// WithProjectMapping maps environments (local, dev, prod) to Secret Manager projects.
func WithProjectMapping(projects map[string]string) Option {
	return func(f *Fetcher) {
		for env, project := range projects {
			f.projects[strings.ToLower(strings.TrimSpace(env))] = strings.TrimSpace(project)
		}
	}
}

// WithEnvironment overrides the environment read from CART_SECURITY_ENVIRONMENT.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) { f.environment = strings.ToLower(strings.TrimSpace(env)) }
}

// WithVersionPin pins a secret name to a specific version.
func WithVersionPin(name, version string) Option {
	return func(f *Fetcher) { f.pins[strings.TrimSpace(name)] = strings.TrimSpace(version) }
}

// WithFallbackFile sets the path of the key=value fallback file.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallbackPath = path }
}

// WithCacheTTL sets how long resolved values stay cached. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) { f.ttl = ttl }
}

// WithClock overrides the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithMeter records lookup counts and latencies on the meter.
func WithMeter(meter metric.Meter) Option {
	return func(f *Fetcher) {
		if meter == nil {
			return
		}
		if counter, err := meter.Int64Counter("secrets.lookups"); err == nil {
			f.lookups = counter
		}
		if hist, err := meter.Float64Histogram("secrets.fetch.latency", metric.WithUnit("ms")); err == nil {
			f.latency = hist
		}
	}
}

// NewFetcher constructs a fetcher. Outside the local environment a Secret Manager client
// is dialled unless one was injected.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	return newFetcher(ctx, nil, opts...)
}

// NewFetcherWithClientOptions is NewFetcher with explicit Google API client options.
func NewFetcherWithClientOptions(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Fetcher, error) {
	return newFetcher(ctx, clientOpts, opts...)
}

func newFetcher(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Fetcher, error) {
	noopMeter := noop.NewMeterProvider().Meter("secrets")
	lookups, _ := noopMeter.Int64Counter("secrets.lookups")
	latency, _ := noopMeter.Float64Histogram("secrets.fetch.latency")
	f := &Fetcher{
		logger:       zap.NewNop(),
		environment:  strings.ToLower(strings.TrimSpace(os.Getenv(environmentEnv))),
		projects:     map[string]string{},
		pins:         map[string]string{},
		ttl:          defaultCacheTTL,
		now:          time.Now,
		fallbackPath: defaultFallbackFile,
		cache:        map[string]cachedSecret{},
		lookups:      lookups,
		latency:      latency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.environment == "" {
		f.environment = "local"
	}
	if f.client == nil && f.environment != "local" {
		client, err := secretManagerClientFactory(ctx, clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager client unavailable, serving fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Invalidate drops ref from the cache so the next Resolve refetches it.
func (f *Fetcher) Invalidate(ref string) {
	f.mu.Lock()
	delete(f.cache, strings.TrimSpace(ref))
	f.mu.Unlock()
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil || !f.ownsClient {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref, serving from cache when fresh.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	if value, ok := f.cached(ref); ok {
		f.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "cache")))
		return value, nil
	}

	if f.client != nil {
		resource, err := f.resourceName(parsed)
		if err != nil {
			return "", err
		}
		started := f.now()
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		f.latency.Record(ctx, float64(f.now().Sub(started).Microseconds())/1000)
		if err == nil {
			value := string(resp.GetPayload().GetData())
			f.store(ref, value)
			f.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "secret_manager")))
			return value, nil
		}
		if !isFallbackError(err) {
			return "", fmt.Errorf("secrets: access %s: %w", resource, err)
		}
		f.logger.Warn("secret manager unavailable, using fallback file",
			zap.String("secret", parsed.name),
			zap.Error(err),
		)
	}

	value, err := f.fromFallback(ref)
	if err != nil {
		return "", err
	}
	f.store(ref, value)
	f.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "fallback")))
	return value, nil
}

func (f *Fetcher) cached(ref string) (string, bool) {
	if f.ttl <= 0 {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[ref]
	if !ok || !f.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(ref, value string) {
	if f.ttl <= 0 {
		return
	}
	f.mu.Lock()
	f.cache[ref] = cachedSecret{value: value, expiresAt: f.now().Add(f.ttl)}
	f.mu.Unlock()
}

func (f *Fetcher) resourceName(ref secretReference) (string, error) {
	project := ref.project
	if project == "" {
		project = f.projects[f.environment]
	}
	if project == "" {
		project = f.project
	}
	if project == "" {
		return "", fmt.Errorf("secrets: no project for secret %q in environment %q", ref.name, f.environment)
	}
	version := ref.version
	if version == "" {
		version = f.pins[ref.name]
	}
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, version), nil
}

func (f *Fetcher) fromFallback(ref string) (string, error) {
	f.fallbackOnce.Do(func() {
		f.fallback, f.fallbackErr = readFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		return "", f.fallbackErr
	}
	if value, ok := f.fallback[ref]; ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, ref)
}

func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if strings.TrimSpace(path) == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("secrets: open fallback file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read fallback file: %w", err)
	}
	return values, nil
}

type secretReference struct {
	project string
	name    string
	version string
}

// parseReference accepts secret://name, secret://project/name[/version] and the
// same forms with the sm:// scheme. Query parameters project and version override the path.
func parseReference(ref string) (secretReference, error) {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "secret" && u.Scheme != "sm") {
		return secretReference{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	parts := []string{u.Host}
	for _, segment := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	var out secretReference
	switch len(parts) {
	case 1:
		out.name = parts[0]
	case 2:
		out.project, out.name = parts[0], parts[1]
	case 3:
		out.project, out.name, out.version = parts[0], parts[1], parts[2]
	default:
		return secretReference{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	query := u.Query()
	if project := strings.TrimSpace(query.Get("project")); project != "" {
		out.project = project
	}
	if version := strings.TrimSpace(query.Get("version")); version != "" {
		out.version = version
	}
	if out.name == "" {
		return secretReference{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return out, nil
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
