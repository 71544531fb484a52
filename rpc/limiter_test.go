package rpc

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterIsPerClient(t *testing.T) {
	l := newClientLimiter(1, 2)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"))
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.allow("a")
	now = now.Add(visitorTTL + time.Second)
	l.allow("b")
	assert.NotContains(t, l.visitors, "a")
	assert.Contains(t, l.visitors, "b")
}

func TestClientID(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientID(r))

	r.Header.Set("X-Forwarded-For", "192.0.2.7, 10.0.0.1")
	assert.Equal(t, "192.0.2.7", clientID(r))

	r.Header.Set("X-Real-IP", "198.51.100.3")
	assert.Equal(t, "198.51.100.3", clientID(r))
}
