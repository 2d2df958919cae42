package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforcerAllowed(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /Search/\n"))
	}))
	defer srv.Close()

	e := New(srv.Client(), "lexcrawl-test", nil)
	ctx := context.Background()
	assert.True(t, e.Allowed(ctx, srv.URL+"/Act/PC1871"))
	assert.False(t, e.Allowed(ctx, srv.URL+"/Search/Results?q=act"))
	assert.Equal(t, int32(1), hits.Load(), "robots.txt is fetched once per host")
}

func TestEnforcerMissingRobotsAllows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	e := New(srv.Client(), "lexcrawl-test", nil)
	require.True(t, e.Allowed(context.Background(), srv.URL+"/anything"))
}

func TestEnforcerUnreachableAllows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := New(nil, "lexcrawl-test", nil)
	require.True(t, e.Allowed(context.Background(), url+"/doc"))
}

func TestEnforcerBadURL(t *testing.T) {
	t.Parallel()

	e := New(nil, "", nil)
	require.False(t, e.Allowed(context.Background(), "not a url"))

	var nilEnforcer *Enforcer
	require.True(t, nilEnforcer.Allowed(context.Background(), "https://example.test/"))
}
