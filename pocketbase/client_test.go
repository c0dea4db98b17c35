package pocketbase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   "sup1",
		"type": "auth",
		"exp":  time.Now().Add(ttl).Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestAuthWithPasswordCachesToken(t *testing.T) {
	token := signedToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/collections/_superusers/auth-with-password", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "admin@example.com", body["identity"])

		_ = json.NewEncoder(w).Encode(AuthResult{Token: token, Record: Record{"id": "sup1"}})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	res, err := c.AuthWithPassword(context.Background(), "admin@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, token, res.Token)
	assert.Equal(t, token, c.Token())
	assert.True(t, c.TokenValid())
}

func TestTokenValid(t *testing.T) {
	c, err := New("http://localhost:8090")
	require.NoError(t, err)

	assert.False(t, c.TokenValid(), "no token")

	c.SetToken("not-a-jwt")
	assert.False(t, c.TokenValid(), "garbage token")

	c.SetToken(signedToken(t, 5*time.Second))
	assert.False(t, c.TokenValid(), "token inside the refresh leeway")

	c.SetToken(signedToken(t, time.Hour))
	assert.True(t, c.TokenValid())

	c.ClearToken()
	assert.False(t, c.TokenValid())
}

func TestPathSegmentsEscapedExactlyOnce(t *testing.T) {
	var gotPath, gotEscaped string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotEscaped = r.URL.EscapedPath()
		_ = json.NewEncoder(w).Encode(ListResult[Record]{})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.ListRecords(context.Background(), "a b", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/api/collections/a b/records", gotPath)
	assert.Equal(t, "/api/collections/a%20b/records", gotEscaped)

	// A slash inside an id must stay one escaped segment, not split the
	// path.
	_, err = c.GetRecord(context.Background(), "posts", "r/1", "")
	require.NoError(t, err)
	assert.Equal(t, "/api/collections/posts/records/r%2F1", gotEscaped)
}

func TestListRecordsQueryAndAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/collections/posts/records", r.URL.Path)
		require.Equal(t, "tok123", r.Header.Get("Authorization"))

		q := r.URL.Query()
		require.Equal(t, "2", q.Get("page"))
		require.Equal(t, "5", q.Get("perPage"))
		require.Equal(t, "status='published'", q.Get("filter"))
		require.Equal(t, "-created", q.Get("sort"))

		_ = json.NewEncoder(w).Encode(ListResult[Record]{
			Page: 2, PerPage: 5, TotalItems: 6, TotalPages: 2,
			Items: []Record{{"id": "r6", "title": "hello"}},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	c.SetToken("tok123")

	res, err := c.ListRecords(context.Background(), "posts", ListOptions{
		Page: 2, PerPage: 5, Filter: "status='published'", Sort: "-created",
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "r6", res.Items[0].ID())
}

func TestAPIErrorDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{
			"status": 400,
			"message": "Failed to create record.",
			"data": {"title": {"code": "validation_required", "message": "Missing required value."}}
		}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.CreateRecord(context.Background(), "posts", map[string]any{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Failed to create record.", apiErr.Message)
	assert.Contains(t, apiErr.Data, "title")
	assert.False(t, IsNotFound(err))
}

func TestIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"message":"The requested resource wasn't found.","data":{}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.GetRecord(context.Background(), "posts", "missing", "")
	assert.True(t, IsNotFound(err))
}

func TestDeleteRecordNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.DeleteRecord(context.Background(), "posts", "r1"))
}
