package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtkrag/internal/domain"
)

func TestFetchExtractsPage(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>ISO 27001 Annex A</title></head>
			<body><nav>menu</nav><main><h2>A.5 Policies</h2><p>Information   security
			policies shall be defined.</p></main><script>x()</script></body></html>`))
	}))
	defer srv.Close()

	page, err := New(srv.Client(), nil).Fetch(context.Background(), srv.URL+"/annex-a")
	require.NoError(t, err)
	assert.Equal(t, UserAgent, gotUA)
	assert.Equal(t, "ISO 27001 Annex A", page.Title)
	assert.Equal(t, "A.5 Policies Information security policies shall be defined.", page.Text)
	assert.Equal(t, srv.URL+"/annex-a", page.URL)
}

func TestFetchTitleFallsBackToURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<p>untitled page</p>`))
	}))
	defer srv.Close()

	page, err := New(srv.Client(), nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, page.Title)
}

func TestFetchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.Client(), nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>t</title></head><body><script>only()</script></body></html>`))
	}))
	defer srv.Close()

	_, err := New(srv.Client(), nil).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
}

func TestFetchRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com/x", "/relative/path", "http://"} {
		_, err := New(nil, nil).Fetch(context.Background(), raw)
		assert.ErrorIs(t, err, domain.ErrConfiguration, raw)
	}
}

func TestSanitizeTitle(t *testing.T) {
	assert.Equal(t, "PCI_DSS_v4_0___Requirement_3", SanitizeTitle("PCI DSS v4.0 - Requirement 3"))
	long := SanitizeTitle(strings.Repeat("a", 80))
	assert.Len(t, long, 50)
	assert.Equal(t, "doc-1_Annex_A.txt", FileName("doc-1", "Annex A"))
}
