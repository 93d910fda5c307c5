package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/internal/metrics"
)

// mockManagerAPI implements ManagerAPI for testing
type mockManagerAPI struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	putSecretValueFunc func(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	createSecretFunc   func(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	describeSecretFunc func(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	listSecretsFunc    func(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

func (m *mockManagerAPI) GetSecretValue(
	ctx context.Context,
	params *secretsmanager.GetSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	if m.getSecretValueFunc != nil {
		return m.getSecretValueFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("GetSecretValue not implemented")
}

func (m *mockManagerAPI) PutSecretValue(
	ctx context.Context,
	params *secretsmanager.PutSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.PutSecretValueOutput, error) {
	if m.putSecretValueFunc != nil {
		return m.putSecretValueFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("PutSecretValue not implemented")
}

func (m *mockManagerAPI) CreateSecret(
	ctx context.Context,
	params *secretsmanager.CreateSecretInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.CreateSecretOutput, error) {
	if m.createSecretFunc != nil {
		return m.createSecretFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("CreateSecret not implemented")
}

func (m *mockManagerAPI) DescribeSecret(
	ctx context.Context,
	params *secretsmanager.DescribeSecretInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.DescribeSecretOutput, error) {
	if m.describeSecretFunc != nil {
		return m.describeSecretFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("DescribeSecret not implemented")
}

func (m *mockManagerAPI) ListSecrets(
	ctx context.Context,
	params *secretsmanager.ListSecretsInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.ListSecretsOutput, error) {
	if m.listSecretsFunc != nil {
		return m.listSecretsFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("ListSecrets not implemented")
}

// countingAPI serves values per secret and version stage and counts
// GetSecretValue calls.
func countingAPI(values map[string]string) (*mockManagerAPI, *atomic.Int32) {
	var calls atomic.Int32
	var mu sync.Mutex
	return &mockManagerAPI{
		getSecretValueFunc: func(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			calls.Add(1)
			mu.Lock()
			defer mu.Unlock()
			key := aws.ToString(params.SecretId) + "@" + aws.ToString(params.VersionStage)
			v, ok := values[key]
			if !ok {
				return nil, &mockAWSError{code: ResourceNotFoundException}
			}
			return &secretsmanager.GetSecretValueOutput{
				Name:         params.SecretId,
				SecretString: aws.String(v),
				VersionId:    aws.String("v-" + key),
			}, nil
		},
	}, &calls
}

// mockCache is a map-backed Cache that ignores TTLs.
type mockCache struct {
	mu    sync.Mutex
	items map[string]any
	ttl   time.Duration
}

func newMockCache() *mockCache {
	return &mockCache{items: make(map[string]any)}
}

func (m *mockCache) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *mockCache) Set(key string, value any, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]any)
	}
	m.items[key] = value
}

func (m *mockCache) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

// Helper types and functions for testing
type logEntry struct {
	level      string
	msg        string
	secretName string
	attrs      string
}

type testLogHandler struct {
	mu   sync.Mutex
	logs *[]logEntry
}

func (h *testLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

//nolint:gocritic // slog.Handler interface requires slog.Record by value
func (h *testLogHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := logEntry{
		level: r.Level.String(),
		msg:   r.Message,
	}

	var attrs []string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "secret_name" {
			entry.secretName = a.Value.String()
		}
		attrs = append(attrs, a.Key+"="+a.Value.Resolve().String())
		return true
	})
	entry.attrs = strings.Join(attrs, " ")

	h.mu.Lock()
	*h.logs = append(*h.logs, entry)
	h.mu.Unlock()
	return nil
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *testLogHandler) WithGroup(name string) slog.Handler {
	return h
}

func TestNewClientWithConfig(t *testing.T) {
	tests := []struct {
		name        string
		ctx         context.Context
		cfg         *aws.Config
		expectError string
	}{
		{
			name: "valid config",
			ctx:  context.Background(),
			cfg:  &aws.Config{Region: "us-east-1"},
		},
		{
			name:        "nil context",
			ctx:         nil,
			cfg:         &aws.Config{Region: "us-east-1"},
			expectError: "context cannot be nil",
		},
		{
			name:        "nil config",
			ctx:         context.Background(),
			cfg:         nil,
			expectError: "config cannot be nil",
		},
		{
			name:        "missing region",
			ctx:         context.Background(),
			cfg:         &aws.Config{},
			expectError: "config region cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClientWithConfig(tt.ctx, tt.cfg)
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client.api)
		})
	}
}

func TestNewClientWithEndpoint(t *testing.T) {
	t.Run("empty endpoint", func(t *testing.T) {
		_, err := NewClientWithEndpoint(context.Background(), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "endpoint URL cannot be empty")
	})

	t.Run("endpoint configured", func(t *testing.T) {
		client, err := NewClientWithEndpoint(context.Background(), "http://localhost:4566")
		require.NoError(t, err)

		sm, ok := client.api.(*secretsmanager.Client)
		require.True(t, ok)
		assert.Equal(t, "http://localhost:4566", aws.ToString(sm.Options().BaseEndpoint))
		assert.Equal(t, "us-east-1", sm.Options().Region)
	})

	t.Run("retry policy is installed", func(t *testing.T) {
		client, err := NewClientWithEndpoint(context.Background(), "http://localhost:4566",
			WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}))
		require.NoError(t, err)

		sm, ok := client.api.(*secretsmanager.Client)
		require.True(t, ok)
		assert.Equal(t, 3, sm.Options().Retryer.MaxAttempts())
	})
}

func TestNewClientWithAPI(t *testing.T) {
	_, err := NewClientWithAPI(nil)
	require.Error(t, err)

	cache := newMockCache()
	client, err := NewClientWithAPI(&mockManagerAPI{}, WithCache(cache))
	require.NoError(t, err)
	assert.Same(t, cache, client.cache)
	assert.NotNil(t, client.now)
}

func TestClient_handleError(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name      string
		err       error
		want      error
		wantCode  errors.ErrorCode
		wantInMsg string
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name:     "resource not found",
			err:      &mockAWSError{code: ResourceNotFoundException},
			want:     ErrSecretNotFound,
			wantCode: errors.CodeNotFound,
		},
		{
			name:     "access denied",
			err:      &mockAWSError{code: AccessDeniedException},
			want:     ErrAccessDenied,
			wantCode: errors.CodeForbidden,
		},
		{
			name:     "decryption failure",
			err:      &mockAWSError{code: DecryptionFailure},
			want:     ErrDecryptionFailed,
			wantCode: errors.CodeSecretRetrieval,
		},
		{
			name:     "resource exists",
			err:      &mockAWSError{code: ResourceExistsException},
			want:     ErrSecretExists,
			wantCode: errors.CodeAlreadyExists,
		},
		{
			name:      "throttling is rate limited",
			err:       &mockAWSError{code: "ThrottlingException", message: "slow down"},
			wantCode:  errors.CodeRateLimit,
			wantInMsg: "GetSecret operation failed: ThrottlingException: slow down",
		},
		{
			name:     "internal service error is unavailable",
			err:      &mockAWSError{code: InternalServiceError},
			wantCode: errors.CodeUnavailable,
		},
		{
			name:     "deadline is a timeout",
			err:      fmt.Errorf("send: %w", context.DeadlineExceeded),
			wantCode: errors.CodeTimeout,
		},
		{
			name:     "already typed error passes through",
			err:      ErrSecretEmpty,
			want:     ErrSecretEmpty,
			wantCode: errors.CodeSecretRetrieval,
		},
		{
			name:      "other api error keeps its code",
			err:       &mockAWSError{code: "InvalidParameterException", message: "bad"},
			wantInMsg: "GetSecret operation failed: InvalidParameterException: bad",
		},
		{
			name:      "plain error is wrapped",
			err:       fmt.Errorf("connection reset"),
			wantInMsg: "GetSecret operation failed: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.handleError(tt.err, "GetSecret")
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			if tt.want != nil {
				assert.ErrorIs(t, got, tt.want)
			}
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errors.GetCode(got))
			}
			if tt.wantInMsg != "" {
				assert.Contains(t, got.Error(), tt.wantInMsg)
			}
		})
	}
}

func TestClient_GetSecretVersion(t *testing.T) {
	fetchedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		output   *secretsmanager.GetSecretValueOutput
		apiErr   error
		stage    string
		validate func(t *testing.T, s *Secret, err error, gotStage string)
	}{
		{
			name: "string secret",
			output: &secretsmanager.GetSecretValueOutput{
				ARN:          aws.String("arn:aws:secretsmanager:us-east-1:1:secret:db"),
				SecretString: aws.String(`{"username":"u"}`),
				VersionId:    aws.String("v1"),
			},
			validate: func(t *testing.T, s *Secret, err error, gotStage string) {
				require.NoError(t, err)
				assert.Equal(t, StageCurrent, gotStage)
				assert.Equal(t, `{"username":"u"}`, s.Value)
				assert.Equal(t, "v1", s.VersionID)
				assert.Equal(t, "db", s.Name)
				assert.Equal(t, StageCurrent, s.VersionStage)
				assert.Equal(t, fetchedAt, s.FetchedAt)
			},
		},
		{
			name:   "binary secret",
			output: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte("raw-bytes")},
			validate: func(t *testing.T, s *Secret, err error, _ string) {
				require.NoError(t, err)
				assert.Equal(t, "raw-bytes", s.Value)
			},
		},
		{
			name:   "previous stage is requested",
			output: &secretsmanager.GetSecretValueOutput{SecretString: aws.String("old")},
			stage:  StagePrevious,
			validate: func(t *testing.T, s *Secret, err error, gotStage string) {
				require.NoError(t, err)
				assert.Equal(t, StagePrevious, gotStage)
				assert.Equal(t, StagePrevious, s.VersionStage)
			},
		},
		{
			name:   "empty secret",
			output: &secretsmanager.GetSecretValueOutput{},
			validate: func(t *testing.T, s *Secret, err error, _ string) {
				assert.ErrorIs(t, err, ErrSecretEmpty)
				assert.Nil(t, s)
			},
		},
		{
			name:   "not found",
			apiErr: &mockAWSError{code: ResourceNotFoundException},
			validate: func(t *testing.T, s *Secret, err error, _ string) {
				assert.ErrorIs(t, err, ErrSecretNotFound)
				assert.Nil(t, s)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotStage string
			api := &mockManagerAPI{
				getSecretValueFunc: func(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
					gotStage = aws.ToString(params.VersionStage)
					return tt.output, tt.apiErr
				},
			}
			client, err := NewClientWithAPI(api, withClock(func() time.Time { return fetchedAt }))
			require.NoError(t, err)

			s, err := client.GetSecretVersion(context.Background(), "db", tt.stage)
			tt.validate(t, s, err, gotStage)
		})
	}
}

func TestClient_GetSecretArgumentValidation(t *testing.T) {
	client, err := NewClientWithAPI(&mockManagerAPI{})
	require.NoError(t, err)

	//nolint:staticcheck // a nil context is the case under test
	_, err = client.GetSecret(nil, "name")
	assert.EqualError(t, err, "context cannot be nil")

	_, err = client.GetSecret(context.Background(), "")
	assert.EqualError(t, err, "secret name cannot be empty")

	err = client.PutSecret(context.Background(), "name", "")
	assert.EqualError(t, err, "secret value cannot be empty")

	err = client.CreateSecret(context.Background(), "", "v", "")
	assert.EqualError(t, err, "secret name cannot be empty")
}

func TestClient_GetPreviousSecret(t *testing.T) {
	api, _ := countingAPI(map[string]string{
		"key@" + StageCurrent:  "new",
		"key@" + StagePrevious: "old",
	})
	client, err := NewClientWithAPI(api)
	require.NoError(t, err)

	prev, err := client.GetPreviousSecret(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, "old", prev)

	cur, err := client.GetSecret(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, "new", cur)
}

func TestClient_PutSecret(t *testing.T) {
	var tokens []string
	api, calls := countingAPI(map[string]string{"app@" + StageCurrent: "v1"})
	api.putSecretValueFunc = func(_ context.Context, params *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
		tokens = append(tokens, aws.ToString(params.ClientRequestToken))
		assert.Equal(t, "app", aws.ToString(params.SecretId))
		assert.Equal(t, "v2", aws.ToString(params.SecretString))
		return &secretsmanager.PutSecretValueOutput{}, nil
	}

	client, err := NewClientWithAPI(api, WithCache(newMockCache()))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.GetSecretCached(ctx, "app")
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())

	require.NoError(t, client.PutSecret(ctx, "app", "v2"))
	require.NoError(t, client.PutSecret(ctx, "app", "v2"))

	require.Len(t, tokens, 2)
	assert.NotEmpty(t, tokens[0])
	assert.NotEqual(t, tokens[0], tokens[1], "each put carries a fresh request token")

	_, err = client.GetSecretCached(ctx, "app")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "put must invalidate the cached value")
}

func TestClient_PutSecretError(t *testing.T) {
	api := &mockManagerAPI{
		putSecretValueFunc: func(context.Context, *secretsmanager.PutSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
			return nil, &mockAWSError{code: AccessDeniedException}
		},
	}
	client, err := NewClientWithAPI(api)
	require.NoError(t, err)

	err = client.PutSecret(context.Background(), "app", "v")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestClient_CreateSecret(t *testing.T) {
	tests := []struct {
		name     string
		kmsKeyID string
		apiErr   error
		validate func(t *testing.T, in *secretsmanager.CreateSecretInput, err error)
	}{
		{
			name: "without kms key",
			validate: func(t *testing.T, in *secretsmanager.CreateSecretInput, err error) {
				require.NoError(t, err)
				assert.Equal(t, "mysql-creds", aws.ToString(in.Name))
				assert.Nil(t, in.KmsKeyId)
				assert.NotEmpty(t, aws.ToString(in.ClientRequestToken))
			},
		},
		{
			name:     "with kms key",
			kmsKeyID: "alias/app",
			validate: func(t *testing.T, in *secretsmanager.CreateSecretInput, err error) {
				require.NoError(t, err)
				assert.Equal(t, "alias/app", aws.ToString(in.KmsKeyId))
			},
		},
		{
			name:   "already exists",
			apiErr: &mockAWSError{code: ResourceExistsException, message: "exists"},
			validate: func(t *testing.T, _ *secretsmanager.CreateSecretInput, err error) {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrSecretExists)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *secretsmanager.CreateSecretInput
			api := &mockManagerAPI{
				createSecretFunc: func(_ context.Context, params *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
					got = params
					if tt.apiErr != nil {
						return nil, tt.apiErr
					}
					return &secretsmanager.CreateSecretOutput{Name: params.Name}, nil
				},
			}
			client, err := NewClientWithAPI(api)
			require.NoError(t, err)

			err = client.CreateSecret(context.Background(), "mysql-creds", `{"username":"u"}`, tt.kmsKeyID)
			tt.validate(t, got, err)
		})
	}
}

func TestClient_DescribeSecret(t *testing.T) {
	api := &mockManagerAPI{
		describeSecretFunc: func(_ context.Context, params *secretsmanager.DescribeSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
			if aws.ToString(params.SecretId) == "missing" {
				return nil, &mockAWSError{code: ResourceNotFoundException}
			}
			return &secretsmanager.DescribeSecretOutput{Name: params.SecretId}, nil
		},
	}
	client, err := NewClientWithAPI(api)
	require.NoError(t, err)

	out, err := client.DescribeSecret(context.Background(), "present")
	require.NoError(t, err)
	assert.Equal(t, "present", aws.ToString(out.Name))

	_, err = client.DescribeSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestClient_ListSecretNames(t *testing.T) {
	pages := map[string]*secretsmanager.ListSecretsOutput{
		"": {
			SecretList: []types.SecretListEntry{{Name: aws.String("mysql-creds")}},
			NextToken:  aws.String("page-2"),
		},
		"page-2": {
			SecretList: []types.SecretListEntry{{Name: aws.String("postgresql-creds")}, {Name: aws.String("django")}},
		},
	}
	api := &mockManagerAPI{
		listSecretsFunc: func(_ context.Context, params *secretsmanager.ListSecretsInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
			return pages[aws.ToString(params.NextToken)], nil
		},
	}
	client, err := NewClientWithAPI(api)
	require.NoError(t, err)

	names, err := client.ListSecretNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mysql-creds", "postgresql-creds", "django"}, names)
}

func TestClient_ListSecretNamesEmpty(t *testing.T) {
	api := &mockManagerAPI{
		listSecretsFunc: func(context.Context, *secretsmanager.ListSecretsInput, ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
			return &secretsmanager.ListSecretsOutput{}, nil
		},
	}
	client, err := NewClientWithAPI(api)
	require.NoError(t, err)

	names, err := client.ListSecretNames(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestClient_GetSecretCached(t *testing.T) {
	ctx := context.Background()

	t.Run("repeated reads within ttl hit the remote once", func(t *testing.T) {
		api, calls := countingAPI(map[string]string{"db@" + StageCurrent: "v1"})
		client, err := NewClientWithAPI(api, WithCache(NewInMemoryCache(time.Hour, 0)))
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			v, err := client.GetSecretCached(ctx, "db")
			require.NoError(t, err)
			assert.Equal(t, "v1", v)
		}
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("expired entry triggers exactly one fetch", func(t *testing.T) {
		api, calls := countingAPI(map[string]string{"db@" + StageCurrent: "v1"})
		client, err := NewClientWithAPI(api, WithCache(NewInMemoryCache(30*time.Millisecond, 0)))
		require.NoError(t, err)

		_, err = client.GetSecretCached(ctx, "db")
		require.NoError(t, err)
		time.Sleep(60 * time.Millisecond)

		_, err = client.GetSecretCached(ctx, "db")
		require.NoError(t, err)
		_, err = client.GetSecretCached(ctx, "db")
		require.NoError(t, err)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("stages are cached independently", func(t *testing.T) {
		api, calls := countingAPI(map[string]string{
			"db@" + StageCurrent:  "new",
			"db@" + StagePrevious: "old",
		})
		client, err := NewClientWithAPI(api, WithCache(newMockCache()))
		require.NoError(t, err)

		cur, err := client.GetSecretVersionCached(ctx, "db", "")
		require.NoError(t, err)
		prev, err := client.GetSecretVersionCached(ctx, "db", StagePrevious)
		require.NoError(t, err)
		assert.Equal(t, "new", cur.Value)
		assert.Equal(t, "old", prev.Value)

		_, _ = client.GetSecretVersionCached(ctx, "db", StageCurrent)
		_, _ = client.GetSecretVersionCached(ctx, "db", StagePrevious)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("no cache always fetches", func(t *testing.T) {
		api, calls := countingAPI(map[string]string{"db@" + StageCurrent: "v1"})
		client, err := NewClientWithAPI(api)
		require.NoError(t, err)

		_, _ = client.GetSecretCached(ctx, "db")
		_, _ = client.GetSecretCached(ctx, "db")
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		api, calls := countingAPI(map[string]string{})
		client, err := NewClientWithAPI(api, WithCache(newMockCache()))
		require.NoError(t, err)

		_, err = client.GetSecretCached(ctx, "missing")
		assert.ErrorIs(t, err, ErrSecretNotFound)
		_, err = client.GetSecretCached(ctx, "missing")
		assert.ErrorIs(t, err, ErrSecretNotFound)
		assert.EqualValues(t, 2, calls.Load())
	})
}

func TestClient_RefreshSecret(t *testing.T) {
	values := map[string]string{"db@" + StageCurrent: "v1"}
	api, calls := countingAPI(values)
	client, err := NewClientWithAPI(api, WithCache(newMockCache()))
	require.NoError(t, err)
	ctx := context.Background()

	v, err := client.GetSecretCached(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	values["db@"+StageCurrent] = "v2"

	v, err = client.GetSecretCached(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, "v1", v, "cached value survives a remote change")

	s, err := client.RefreshSecret(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, "v2", s.Value)

	v, err = client.GetSecretCached(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestClient_InvalidateCache(t *testing.T) {
	api, calls := countingAPI(map[string]string{
		"db@" + StageCurrent:  "v1",
		"db@" + StagePrevious: "v0",
		"db@custom-label":     "vc",
		"other@" + StageCurrent: "o1",
	})
	client, err := NewClientWithAPI(api, WithCache(newMockCache()))
	require.NoError(t, err)
	ctx := context.Background()

	for _, stage := range []string{StageCurrent, StagePrevious, "custom-label"} {
		_, err := client.GetSecretVersionCached(ctx, "db", stage)
		require.NoError(t, err)
	}
	_, err = client.GetSecretCached(ctx, "other")
	require.NoError(t, err)
	require.EqualValues(t, 4, calls.Load())

	client.InvalidateCache("db")

	for _, stage := range []string{StageCurrent, StagePrevious, "custom-label"} {
		_, err := client.GetSecretVersionCached(ctx, "db", stage)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 7, calls.Load(), "every stage of the invalidated secret is fetched again")

	_, err = client.GetSecretCached(ctx, "other")
	require.NoError(t, err)
	assert.EqualValues(t, 7, calls.Load(), "other secrets stay cached")

	// Invalidating an unknown secret or without a cache is a no-op.
	client.InvalidateCache("never-fetched")
	client.InvalidateCache("")
	noCache, err := NewClientWithAPI(api)
	require.NoError(t, err)
	noCache.InvalidateCache("db")
}

func TestClient_ClearCacheAndSize(t *testing.T) {
	api, _ := countingAPI(map[string]string{
		"a@" + StageCurrent: "1",
		"b@" + StageCurrent: "2",
	})
	client, err := NewClientWithAPI(api, WithCache(NewInMemoryCache(time.Hour, 0)))
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, 0, client.CacheSize())
	_, _ = client.GetSecretCached(ctx, "a")
	_, _ = client.GetSecretCached(ctx, "b")
	assert.Equal(t, 2, client.CacheSize())

	client.ClearCache()
	assert.Equal(t, 0, client.CacheSize())

	noCache, err := NewClientWithAPI(api)
	require.NoError(t, err)
	noCache.ClearCache()
	assert.Equal(t, 0, noCache.CacheSize())
}

func TestClient_Metrics(t *testing.T) {
	api, _ := countingAPI(map[string]string{"db@" + StageCurrent: "v1"})
	m := metrics.New(nil)
	client, err := NewClientWithAPI(api, WithCache(newMockCache()), WithMetrics(m))
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = client.GetSecretCached(ctx, "db")
	_, _ = client.GetSecretCached(ctx, "db")
	_, _ = client.GetSecretCached(ctx, "db")
	client.InvalidateCache("db")
	_, _ = client.GetSecretCached(ctx, "missing")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("db")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("db")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheInvalidations.WithLabelValues("db")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SecretFetches.WithLabelValues("db", metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SecretFetches.WithLabelValues("missing", metrics.OutcomeError)))
}

func TestClient_LogsNeverContainValues(t *testing.T) {
	const value = `{"password":"hunter2-very-secret"}`
	api, _ := countingAPI(map[string]string{"db@" + StageCurrent: value})
	api.putSecretValueFunc = func(context.Context, *secretsmanager.PutSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
		return &secretsmanager.PutSecretValueOutput{}, nil
	}

	var logs []logEntry
	logger := slog.New(&testLogHandler{logs: &logs})
	client, err := NewClientWithAPI(api, WithLogger(logger), WithCache(newMockCache()))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.GetSecretCached(ctx, "db")
	require.NoError(t, err)
	_, err = client.GetSecretCached(ctx, "db")
	require.NoError(t, err)
	require.NoError(t, client.PutSecret(ctx, "db", value))
	_, err = client.GetSecretCached(ctx, "missing")
	require.Error(t, err)

	require.NotEmpty(t, logs)
	var sawHit bool
	for _, e := range logs {
		assert.NotContains(t, e.msg, "hunter2")
		assert.NotContains(t, e.attrs, "hunter2")
		if e.msg == "cache hit for secret" {
			sawHit = true
			assert.Equal(t, "db", e.secretName)
		}
	}
	assert.True(t, sawHit)
}

func TestClient_ConcurrentCachedReads(t *testing.T) {
	api, calls := countingAPI(map[string]string{"db@" + StageCurrent: "v1"})
	client, err := NewClientWithAPI(api, WithCache(NewInMemoryCache(time.Hour, 0)))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.GetSecretCached(ctx, "db")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := client.GetSecretCached(ctx, "db")
			assert.NoError(t, err)
			assert.Equal(t, "v1", v)
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.InvalidateCache("db")
		}()
	}
	wg.Wait()

	// Concurrent misses may refresh more than once; each refresh is one call.
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}
