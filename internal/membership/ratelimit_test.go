package membership

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLimiterIsPerKey(t *testing.T) {
	l := newKeyedLimiter(time.Hour, 2)

	assert.True(t, l.Allow("a@example.com"))
	assert.True(t, l.Allow("a@example.com"))
	assert.False(t, l.Allow("a@example.com"))

	assert.True(t, l.Allow("b@example.com"))
}

func TestKeyedLimiterStaysBounded(t *testing.T) {
	l := newKeyedLimiter(time.Hour, 2)
	l.maxKeys = 100

	for i := 0; i < 100_000; i++ {
		l.Allow(fmt.Sprintf("user%d@example.com", i))
	}
	assert.LessOrEqual(t, l.Len(), 100)
}

func TestKeyedLimiterDropsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(time.Minute, 2)
	l.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		l.Allow(fmt.Sprintf("user%d@example.com", i))
	}
	require.Equal(t, 50, l.Len())

	now = now.Add(2 * time.Minute)
	l.Allow("late@example.com")
	assert.Equal(t, 1, l.Len())
}

func TestKeyedLimiterKeepsThrottledKeyAcrossSweeps(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(time.Minute, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a@example.com"))
	assert.True(t, l.Allow("a@example.com"))
	assert.False(t, l.Allow("a@example.com"))

	// Within the refill window the bucket survives a sweep and stays empty.
	now = now.Add(30 * time.Second)
	l.lastSweep = time.Time{}
	assert.False(t, l.Allow("a@example.com"))
}

func TestClientIPFromContext(t *testing.T) {
	assert.Equal(t, "unknown", clientIP(context.Background()))
	assert.Equal(t, "10.0.0.7", clientIP(WithClientIP(context.Background(), "10.0.0.7")))

	r := httptest.NewRequest("POST", "/members", nil)
	r.RemoteAddr = "192.0.2.10:51234"
	assert.Equal(t, "192.0.2.10", remoteIP(r))
	r.RemoteAddr = "192.0.2.11"
	assert.Equal(t, "192.0.2.11", remoteIP(r))
}
