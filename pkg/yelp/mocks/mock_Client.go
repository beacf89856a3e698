// Package mocks provides test doubles for the yelp client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	yelp "github.com/sells-group/provider-sync/pkg/yelp"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// SearchBusinesses provides a mock function with given fields: ctx, req
func (_m *MockClient) SearchBusinesses(ctx context.Context, req yelp.SearchRequest) (*yelp.SearchResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for SearchBusinesses")
	}

	var r0 *yelp.SearchResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, yelp.SearchRequest) (*yelp.SearchResponse, error)); ok {
		return rf(ctx, req)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*yelp.SearchResponse)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockClient creates a new instance of MockClient and registers cleanup
// that asserts expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
