// Package secretstest provides an in-memory Secrets Manager for tests.
//
// API implements secrets.ManagerAPI with the parts of Secrets Manager's
// behavior the client depends on: version stages, AWSPREVIOUS after a
// PutSecretValue, idempotent client request tokens, paginated listing and
// the service's typed errors.
package secretstest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/services/aws/secrets"
)

const (
	region    = "us-east-1"
	accountID = "000000000000"

	defaultPageSize = 100
)

type version struct {
	id      string
	value   string
	created time.Time
}

type secret struct {
	name     string
	arn      string
	kmsKeyID string
	created  time.Time
	versions map[string]*version
	// stages maps a staging label to a version ID.
	stages map[string]string
}

// API is an in-memory Secrets Manager. It is safe for concurrent use.
type API struct {
	mu      sync.RWMutex
	secrets map[string]*secret
	calls   map[string]int
	now     func() time.Time

	// Err, when set, is returned by every call before it touches the store.
	Err error
}

var _ secrets.ManagerAPI = (*API)(nil)

// New returns an empty store.
func New() *API {
	return &API{
		secrets: make(map[string]*secret),
		calls:   make(map[string]int),
		now:     time.Now,
	}
}

// Seed creates or updates a secret without counting as a call.
func (a *API) Seed(name, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.secrets[name]; ok {
		a.putLocked(s, uuid.NewString(), value)
		return
	}
	a.createLocked(name, value, "", uuid.NewString())
}

// Value returns the AWSCURRENT value of name.
func (a *API) Value(name string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.secrets[name]
	if !ok {
		return "", false
	}
	return s.versions[s.stages[secrets.StageCurrent]].value, true
}

// Calls returns how many times operation (e.g. "GetSecretValue") was called.
func (a *API) Calls(operation string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.calls[operation]
}

// Close drops every stored secret.
func (a *API) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name := range a.secrets {
		delete(a.secrets, name)
	}
	return nil
}

func (a *API) begin(ctx context.Context, operation string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s cancelled: %w", operation, err)
	}
	a.calls[operation]++
	return a.Err
}

// lookupLocked accepts a name or an ARN, as Secrets Manager does.
func (a *API) lookupLocked(id string) (*secret, error) {
	if s, ok := a.secrets[id]; ok {
		return s, nil
	}
	for _, s := range a.secrets {
		if s.arn == id {
			return s, nil
		}
	}
	return nil, &types.ResourceNotFoundException{
		Message: aws.String("Secrets Manager can't find the specified secret."),
	}
}

func (a *API) createLocked(name, value, kmsKeyID, token string) *secret {
	now := a.now()
	s := &secret{
		name:     name,
		arn:      fmt.Sprintf("arn:aws:secretsmanager:%s:%s:secret:%s-%s", region, accountID, name, uuid.NewString()[:6]),
		kmsKeyID: kmsKeyID,
		created:  now,
		versions: map[string]*version{token: {id: token, value: value, created: now}},
		stages:   map[string]string{secrets.StageCurrent: token},
	}
	a.secrets[name] = s
	return s
}

func (a *API) putLocked(s *secret, token, value string) {
	s.versions[token] = &version{id: token, value: value, created: a.now()}
	if cur, ok := s.stages[secrets.StageCurrent]; ok {
		s.stages[secrets.StagePrevious] = cur
	}
	s.stages[secrets.StageCurrent] = token
}

// GetSecretValue implements secrets.ManagerAPI.
func (a *API) GetSecretValue(
	ctx context.Context,
	params *secretsmanager.GetSecretValueInput,
	_ ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "GetSecretValue"); err != nil {
		return nil, err
	}

	s, err := a.lookupLocked(aws.ToString(params.SecretId))
	if err != nil {
		return nil, err
	}

	versionID := aws.ToString(params.VersionId)
	if versionID == "" {
		stage := aws.ToString(params.VersionStage)
		if stage == "" {
			stage = secrets.StageCurrent
		}
		versionID = s.stages[stage]
	}
	v, ok := s.versions[versionID]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String("Secrets Manager can't find the specified secret value for the requested version or staging label."),
		}
	}

	return &secretsmanager.GetSecretValueOutput{
		ARN:           aws.String(s.arn),
		Name:          aws.String(s.name),
		VersionId:     aws.String(v.id),
		SecretString:  aws.String(v.value),
		VersionStages: s.stagesOf(v.id),
		CreatedDate:   aws.Time(v.created),
	}, nil
}

// PutSecretValue implements secrets.ManagerAPI.
func (a *API) PutSecretValue(
	ctx context.Context,
	params *secretsmanager.PutSecretValueInput,
	_ ...func(*secretsmanager.Options),
) (*secretsmanager.PutSecretValueOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "PutSecretValue"); err != nil {
		return nil, err
	}

	s, err := a.lookupLocked(aws.ToString(params.SecretId))
	if err != nil {
		return nil, err
	}
	value := aws.ToString(params.SecretString)
	if value == "" {
		return nil, &types.InvalidParameterException{Message: aws.String("You must provide either SecretString or SecretBinary.")}
	}

	token := aws.ToString(params.ClientRequestToken)
	if token == "" {
		token = uuid.NewString()
	}
	if v, ok := s.versions[token]; ok {
		if v.value != value {
			return nil, &types.ResourceExistsException{
				Message: aws.String("You can't modify an existing version, you can only create a new version."),
			}
		}
	} else {
		a.putLocked(s, token, value)
	}

	return &secretsmanager.PutSecretValueOutput{
		ARN:           aws.String(s.arn),
		Name:          aws.String(s.name),
		VersionId:     aws.String(token),
		VersionStages: s.stagesOf(token),
	}, nil
}

// CreateSecret implements secrets.ManagerAPI.
func (a *API) CreateSecret(
	ctx context.Context,
	params *secretsmanager.CreateSecretInput,
	_ ...func(*secretsmanager.Options),
) (*secretsmanager.CreateSecretOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "CreateSecret"); err != nil {
		return nil, err
	}

	name := aws.ToString(params.Name)
	if name == "" {
		return nil, &types.InvalidParameterException{Message: aws.String("Name is required.")}
	}
	if _, ok := a.secrets[name]; ok {
		return nil, &types.ResourceExistsException{
			Message: aws.String(fmt.Sprintf("The operation failed because the secret %s already exists.", name)),
		}
	}

	token := aws.ToString(params.ClientRequestToken)
	if token == "" {
		token = uuid.NewString()
	}
	s := a.createLocked(name, aws.ToString(params.SecretString), aws.ToString(params.KmsKeyId), token)

	return &secretsmanager.CreateSecretOutput{
		ARN:       aws.String(s.arn),
		Name:      aws.String(s.name),
		VersionId: aws.String(token),
	}, nil
}

// DescribeSecret implements secrets.ManagerAPI.
func (a *API) DescribeSecret(
	ctx context.Context,
	params *secretsmanager.DescribeSecretInput,
	_ ...func(*secretsmanager.Options),
) (*secretsmanager.DescribeSecretOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "DescribeSecret"); err != nil {
		return nil, err
	}

	s, err := a.lookupLocked(aws.ToString(params.SecretId))
	if err != nil {
		return nil, err
	}

	stages := make(map[string][]string, len(s.versions))
	for id := range s.versions {
		if labels := s.stagesOf(id); len(labels) > 0 {
			stages[id] = labels
		}
	}

	out := &secretsmanager.DescribeSecretOutput{
		ARN:                aws.String(s.arn),
		Name:               aws.String(s.name),
		CreatedDate:        aws.Time(s.created),
		VersionIdsToStages: stages,
	}
	if s.kmsKeyID != "" {
		out.KmsKeyId = aws.String(s.kmsKeyID)
	}
	return out, nil
}

// ListSecrets implements secrets.ManagerAPI. Secrets are listed by name and
// NextToken is the index of the next entry.
func (a *API) ListSecrets(
	ctx context.Context,
	params *secretsmanager.ListSecretsInput,
	_ ...func(*secretsmanager.Options),
) (*secretsmanager.ListSecretsOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "ListSecrets"); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(a.secrets))
	for name := range a.secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	start := 0
	if tok := aws.ToString(params.NextToken); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 || n > len(names) {
			return nil, &types.InvalidNextTokenException{Message: aws.String("The NextToken value is invalid.")}
		}
		start = n
	}
	size := defaultPageSize
	if params.MaxResults != nil && *params.MaxResults > 0 {
		size = int(*params.MaxResults)
	}
	end := min(start+size, len(names))

	out := &secretsmanager.ListSecretsOutput{}
	for _, name := range names[start:end] {
		s := a.secrets[name]
		out.SecretList = append(out.SecretList, types.SecretListEntry{
			ARN:         aws.String(s.arn),
			Name:        aws.String(s.name),
			CreatedDate: aws.Time(s.created),
		})
	}
	if end < len(names) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (s *secret) stagesOf(versionID string) []string {
	var labels []string
	for label, id := range s.stages {
		if id == versionID {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels
}
