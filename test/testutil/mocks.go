package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
	"github.com/TheMichaelB/kdbxdiff/internal/history"
	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
)

// MockProvider mocks crypto.Provider.
type MockProvider struct {
	mock.Mock
}

// CompositeKey implements crypto.Provider.
func (m *MockProvider) CompositeKey(creds crypto.Credentials) ([]byte, error) {
	args := m.Called(creds)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

// DeriveKey implements crypto.Provider.
func (m *MockProvider) DeriveKey(params kdbx.KDFParams, composite []byte) ([]byte, error) {
	args := m.Called(params, composite)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

// Open implements crypto.Provider.
func (m *MockProvider) Open(h *kdbx.Header, payload []byte, creds crypto.Credentials) ([]byte, error) {
	args := m.Called(h, payload, creds)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockStore mocks history.Store.
type MockStore struct {
	mock.Mock
}

// Record implements history.Store.
func (m *MockStore) Record(ctx context.Context, rec *history.Record) error {
	return m.Called(ctx, rec).Error(0)
}

// Get implements history.Store.
func (m *MockStore) Get(ctx context.Context, id string) (*history.Record, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*history.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

// List implements history.Store.
func (m *MockStore) List(ctx context.Context, limit int) ([]history.Record, error) {
	args := m.Called(ctx, limit)
	if r := args.Get(0); r != nil {
		return r.([]history.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

// Close implements history.Store.
func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

// AssertMockExpectations verifies all mock expectations.
func AssertMockExpectations(t mock.TestingT, mocks ...interface{}) {
	for _, m := range mocks {
		if mockObj, ok := m.(interface{ AssertExpectations(mock.TestingT) bool }); ok {
			mockObj.AssertExpectations(t)
		}
	}
}

// TestingT is a minimal interface for testing.T compatibility.
type TestingT interface {
	Errorf(format string, args ...interface{})
	FailNow()
}
