package projectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/playpen/internal/auth"
	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/metrics"
	"github.com/conneroisu/playpen/internal/persistence"
)

var testSecret = []byte(strings.Repeat("s", auth.MinSecretLen))

func newTestAPI(t *testing.T) (*httptest.Server, *SQLiteStore) {
	t.Helper()
	store := openTestStore(t)
	srv := httptest.NewServer(NewRouter(store, APIOptions{Secret: testSecret, Metrics: metrics.New()}))
	t.Cleanup(srv.Close)
	return srv, store
}

func token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := auth.GenerateToken(testSecret, subject, "", time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, method, url, tok string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIRequiresToken(t *testing.T) {
	srv, _ := newTestAPI(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPICreateAndList(t *testing.T) {
	srv, _ := newTestAPI(t)
	tok := token(t, "alice")

	resp := do(t, http.MethodPost, srv.URL+"/api/projects", tok, map[string]string{"name": "Demo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created projectResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "Demo", created.Name)

	resp = do(t, http.MethodGet, srv.URL+"/api/projects", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestAPIPutRequiresAllFields(t *testing.T) {
	srv, store := newTestAPI(t)
	tok := token(t, "alice")
	rec, err := store.Create(context.Background(), "alice", "Demo")
	require.NoError(t, err)

	resp := do(t, http.MethodPut, srv.URL+"/api/projects/"+rec.ID, tok, map[string]string{"html": "<p>partial</p>"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/api/projects/"+rec.ID, tok,
		map[string]string{"html": "<p>x</p>", "css": "", "js": ""})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := store.Get(context.Background(), "alice", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "<p>x</p>", got.Sources.HTML)
}

func TestAPIRenameAndDelete(t *testing.T) {
	srv, store := newTestAPI(t)
	tok := token(t, "alice")
	rec, err := store.Create(context.Background(), "alice", "Demo")
	require.NoError(t, err)

	resp := do(t, http.MethodPatch, srv.URL+"/api/projects/"+rec.ID, tok, map[string]string{"name": "<i>New</i>"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var renamed map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&renamed))
	assert.Equal(t, "New", renamed["name"])

	resp = do(t, http.MethodDelete, srv.URL+"/api/projects/"+rec.ID, tok, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/projects/"+rec.ID, tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// The editor's HTTP client and this API agree on the wire format.
func TestAPIWithPersistenceClient(t *testing.T) {
	srv, store := newTestAPI(t)
	rec, err := store.Create(context.Background(), "alice", "Demo")
	require.NoError(t, err)

	client := persistence.NewHTTPStore(persistence.HTTPOptions{BaseURL: srv.URL, Timeout: 2 * time.Second})
	ctx := context.Background()
	tok := token(t, "alice")

	src := buffer.Sources{HTML: "<h1>hi</h1>", CSS: "", JS: "console.log(1)"}
	require.NoError(t, client.Save(ctx, rec.ID, tok, src))

	p, err := client.Load(ctx, rec.ID, tok)
	require.NoError(t, err)
	assert.Equal(t, "Demo", p.Name)
	assert.Equal(t, src, p.Sources)

	_, err = client.Load(ctx, rec.ID, "")
	assert.True(t, errors.IsUnauthorized(err))

	_, err = client.Load(ctx, rec.ID, token(t, "mallory"))
	assert.True(t, errors.IsNotFound(err))
}
