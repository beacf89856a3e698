package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timeout" }
func (timeoutErr) Timeout() bool { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"503", NewStatusError("google", 503, nil), true},
		{"429", NewStatusError("yelp", 429, []byte("slow down")), true},
		{"400", NewStatusError("yelp", 400, nil), false},
		{"wrapped 502", fmt.Errorf("search: %w", NewStatusError("google", 502, nil)), true},
		{"net timeout", timeoutErr{}, true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"string pattern", errors.New("Get https://x: i/o timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestStatusError(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewStatusError("yelp", 429, []byte("  too many  ")))
	assert.Equal(t, 429, StatusCode(err))
	assert.True(t, IsRateLimited(err))
	assert.Contains(t, err.Error(), "yelp: status 429: too many")

	assert.Zero(t, StatusCode(errors.New("x")))
	assert.False(t, IsRateLimited(nil))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}
