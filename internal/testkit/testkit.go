// Package testkit builds the store and authenticated router the handler
// tests share.
package testkit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/internchat/backend/internal/auth"
	"github.com/ageniuscoder/internchat/backend/internal/logging"
	"github.com/ageniuscoder/internchat/backend/internal/model"
	"github.com/ageniuscoder/internchat/backend/internal/snowflake"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlite"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlstore"
)

const Secret = "testkit-secret"

var (
	Admin = model.Participant{ID: "admin", Role: model.RoleAdmin, FullName: "Nikunj"}
	Alice = model.Participant{ID: "alice", Role: model.RoleIntern, FullName: "Alice"}
	Bob   = model.Participant{ID: "bob", Role: model.RoleIntern, FullName: "Bob"}
)

// Store opens a migrated SQLite store in a temp dir with Admin, Alice and
// Bob registered.
func Store(t *testing.T) *sqlstore.Store {
	t.Helper()
	conn, err := sqlite.New("file:" + filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, conn.Migrate())
	t.Cleanup(func() { conn.Close() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := sqlstore.New(conn.Db, sqlstore.SQLite, node, logging.Discard())
	for _, p := range []model.Participant{Admin, Alice, Bob} {
		_, err := store.UpsertParticipant(context.Background(), p)
		require.NoError(t, err)
	}
	return store
}

// Router returns an engine and its authenticated /api group.
func Router(store *sqlstore.Store) (*gin.Engine, *gin.RouterGroup) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api")
	api.Use(auth.NewAuthenticator(Secret, store, logging.Discard()).Middleware())
	return r, api
}

func Token(t *testing.T, p model.Participant) string {
	t.Helper()
	tok, err := auth.NewToken(Secret, p, time.Hour)
	require.NoError(t, err)
	return tok
}

// Do sends body as JSON, or as-is when it is an io.Reader, on behalf of as.
func Do(t *testing.T, h http.Handler, method, path string, as model.Participant, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		rd = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if _, ok := body.(io.Reader); !ok && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+Token(t, as))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// Decode unmarshals the recorded body into v.
func Decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
