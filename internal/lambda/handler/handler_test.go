package handler_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/events"
	"github.com/TheMichaelB/kdbxdiff/internal/history"
	"github.com/TheMichaelB/kdbxdiff/internal/lambda/handler"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
	"github.com/TheMichaelB/kdbxdiff/internal/source"
	"github.com/TheMichaelB/kdbxdiff/test/testutil"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

type mockSecrets struct {
	mock.Mock
}

func (m *mockSecrets) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, aws.ToString(in.SecretId))
	if out := args.Get(0); out != nil {
		return out.(*secretsmanager.GetSecretValueOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

type fixture struct {
	handler *handler.Handler
	secrets *mockSecrets
	store   *history.MemoryStore
	logs    *testutil.LogOutput
}

func newFixture(t *testing.T, after *testutil.Vault) *fixture {
	t.Helper()
	opts := testutil.V4Options("pw")
	objects := map[string][]byte{
		"vaults/a.kdbx": testutil.MustWriteVault(t, testutil.BaseVault(), opts),
		"vaults/b.kdbx": testutil.MustWriteVault(t, after, opts),
	}

	secrets := &mockSecrets{}
	secrets.On("GetSecretValue", mock.Anything, "kdbx/creds").
		Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"default": "pw"}`)}, nil)

	cfg := config.DefaultConfig()
	cfg.AWS.SecretID = "kdbx/creds"

	logger, logs := testutil.NewTestLogger()
	store := history.NewMemoryStore()
	h := handler.New(cfg, logger, handler.Deps{
		S3: func(ctx context.Context) (source.S3API, error) {
			return &fakeS3{objects: objects}, nil
		},
		Secrets: secrets,
		Store:   store,
	})
	return &fixture{handler: h, secrets: secrets, store: store, logs: logs}
}

func TestProcessEvent_Compare(t *testing.T) {
	f := newFixture(t, testutil.WithPassword("correct horse"))

	resp, err := f.handler.ProcessEvent(context.Background(), handler.Event{
		Bucket: "vaults",
		KeyA:   "a.kdbx",
		KeyB:   "b.kdbx",
	})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Errors)
	assert.True(t, resp.Differs)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, map[string]int{"FieldModified": 1}, resp.Counts)
	assert.NotEmpty(t, resp.RecordID)
	assert.Len(t, resp.Metadata["before_sha256"], 64)

	rec, err := f.store.Get(context.Background(), resp.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "s3://vaults/a.kdbx", rec.Before.Name)

	assert.NotContains(t, f.logs.String(), "hunter2")
	assert.NotContains(t, f.logs.String(), "correct horse")
	f.secrets.AssertExpectations(t)
}

func TestProcessEvent_NoDifferences(t *testing.T) {
	f := newFixture(t, testutil.BaseVault())

	resp, err := f.handler.ProcessEvent(context.Background(), handler.Event{
		Action: handler.ActionCompare,
		Bucket: "vaults",
		KeyA:   "a.kdbx",
		KeyB:   "/b.kdbx",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.False(t, resp.Differs)
	assert.Zero(t, resp.Total)
}

func TestProcessEvent_Failures(t *testing.T) {
	tests := []struct {
		name     string
		event    handler.Event
		wantCode string
	}{
		{"unknown action", handler.Event{Action: "sync", Bucket: "vaults", KeyA: "a.kdbx", KeyB: "b.kdbx"}, ""},
		{"missing keys", handler.Event{Bucket: "vaults", KeyA: "a.kdbx"}, ""},
		{"missing object", handler.Event{Bucket: "vaults", KeyA: "a.kdbx", KeyB: "nope.kdbx"}, models.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testutil.BaseVault())
			resp, err := f.handler.ProcessEvent(context.Background(), tt.event)
			require.NoError(t, err)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.ErrorCode)
		})
	}
}

func TestProcessEvent_WrongPassword(t *testing.T) {
	f := newFixture(t, testutil.BaseVault())
	f.secrets.ExpectedCalls = nil
	f.secrets.On("GetSecretValue", mock.Anything, "other").
		Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"files": {"a.kdbx": "nope", "b.kdbx": "pw"}}`)}, nil)

	resp, err := f.handler.ProcessEvent(context.Background(), handler.Event{
		Bucket:   "vaults",
		KeyA:     "a.kdbx",
		KeyB:     "b.kdbx",
		SecretID: "other",
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, models.ErrCodeWrongCredentials, resp.ErrorCode)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "s3://vaults/a.kdbx")
}

func TestProcessEvent_RequestID(t *testing.T) {
	f := newFixture(t, testutil.BaseVault())
	ctx := events.WithRequestID(context.Background(), "req-123")

	_, err := f.handler.ProcessEvent(ctx, handler.Event{Bucket: "vaults", KeyA: "a.kdbx", KeyB: "b.kdbx"})
	require.NoError(t, err)
	assert.Contains(t, f.logs.String(), "req-123")
}

func TestProcessEvent_NoSecret(t *testing.T) {
	cfg := config.DefaultConfig()
	h := handler.New(cfg, nil, handler.Deps{
		S3: func(ctx context.Context) (source.S3API, error) {
			return &fakeS3{objects: map[string][]byte{"v/a": {1}, "v/b": {2}}}, nil
		},
	})

	resp, err := h.ProcessEvent(context.Background(), handler.Event{Bucket: "v", KeyA: "a", KeyB: "b"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Errors[0], "no credentials secret")
}
