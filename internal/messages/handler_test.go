package messages

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/internchat/backend/internal/attachments"
	"github.com/ageniuscoder/internchat/backend/internal/logging"
	"github.com/ageniuscoder/internchat/backend/internal/model"
	"github.com/ageniuscoder/internchat/backend/internal/reactions"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlstore"
	"github.com/ageniuscoder/internchat/backend/internal/testkit"
)

func setup(t *testing.T) (http.Handler, *sqlstore.Store) {
	store := testkit.Store(t)
	disk, err := attachments.NewDisk(t.TempDir(), "/files")
	require.NoError(t, err)
	log := logging.Discard()

	r, api := testkit.Router(store)
	Register(api, &Service{
		Store:     store,
		Ledger:    reactions.NewLedger(store, log),
		Uploader:  attachments.NewUploader(disk, 1<<10, log),
		MaxUpload: 1 << 10,
		Log:       log,
	})
	return r, store
}

func TestSendAndPage(t *testing.T) {
	r, _ := setup(t)

	for _, text := range []string{"one", "two", "three"} {
		w := testkit.Do(t, r, http.MethodPost, "/api/conversations/admin/messages", testkit.Alice,
			map[string]any{"content": map[string]string{"kind": "text", "text": text}})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	var m model.Message
	w := testkit.Do(t, r, http.MethodPost, "/api/conversations/alice/messages", testkit.Admin,
		map[string]any{"content": "[IMAGE] /files/a.png", "client_id": "c-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	testkit.Decode(t, w, &m)
	assert.Equal(t, model.KindImage, m.Content.Kind, "legacy string form is accepted")
	assert.Equal(t, model.StatusSent, m.Status)

	var page sqlstore.Page
	w = testkit.Do(t, r, http.MethodGet, "/api/conversations/admin/messages?limit=3", testkit.Alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	testkit.Decode(t, w, &page)
	require.Len(t, page.Messages, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, "one", page.Messages[0].Content.Text)
}

func TestPageResumesAfterCursor(t *testing.T) {
	r, _ := setup(t)
	for _, text := range []string{"one", "two", "three"} {
		w := testkit.Do(t, r, http.MethodPost, "/api/conversations/alice/messages", testkit.Admin,
			map[string]any{"content": map[string]string{"kind": "text", "text": text}})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	var first, second sqlstore.Page
	w := testkit.Do(t, r, http.MethodGet, "/api/conversations/alice/messages?limit=2", testkit.Admin, nil)
	testkit.Decode(t, w, &first)
	require.Len(t, first.Messages, 2)
	require.NotEmpty(t, first.Next)

	w = testkit.Do(t, r, http.MethodGet, "/api/conversations/alice/messages?limit=2&cursor="+url.QueryEscape(first.Next), testkit.Admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	testkit.Decode(t, w, &second)
	require.Len(t, second.Messages, 1)
	assert.Equal(t, "three", second.Messages[0].Content.Text)
	assert.False(t, second.HasMore)

	w = testkit.Do(t, r, http.MethodGet, "/api/conversations/alice/messages?cursor=bogus", testkit.Admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = testkit.Do(t, r, http.MethodGet, "/api/conversations/alice/messages?limit=1000", testkit.Admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendRejections(t *testing.T) {
	r, _ := setup(t)
	text := map[string]any{"content": map[string]string{"kind": "text", "text": "hey"}}

	w := testkit.Do(t, r, http.MethodPost, "/api/conversations/bob/messages", testkit.Alice, text)
	assert.Equal(t, http.StatusForbidden, w.Code, "interns cannot message each other")

	w = testkit.Do(t, r, http.MethodPost, "/api/conversations/ghost/messages", testkit.Admin, text)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testkit.Do(t, r, http.MethodPost, "/api/conversations/alice/messages", testkit.Admin,
		map[string]any{"content": map[string]string{"kind": "text", "text": "   "}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testkit.Do(t, r, http.MethodPost, "/api/conversations/alice/messages", testkit.Admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReact(t *testing.T) {
	r, store := setup(t)

	var m model.Message
	w := testkit.Do(t, r, http.MethodPost, "/api/conversations/alice/messages", testkit.Admin,
		map[string]any{"content": map[string]string{"kind": "text", "text": "shipped"}})
	require.Equal(t, http.StatusCreated, w.Code)
	testkit.Decode(t, w, &m)
	path := "/api/messages/" + strconv.FormatInt(m.ID, 10) + "/reactions"

	var resp struct {
		Message model.Message   `json:"message"`
		Summary []model.Summary `json:"summary"`
	}
	w = testkit.Do(t, r, http.MethodPost, path, testkit.Alice, map[string]string{"emoji": "🎉"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testkit.Decode(t, w, &resp)
	require.Len(t, resp.Summary, 1)
	assert.Equal(t, model.Summary{Emoji: "🎉", Count: 1, Users: []string{"alice"}}, resp.Summary[0])

	w = testkit.Do(t, r, http.MethodPost, path, testkit.Bob, map[string]string{"emoji": "🎉"})
	assert.Equal(t, http.StatusNotFound, w.Code, "outsiders cannot see the message")

	w = testkit.Do(t, r, http.MethodPost, path, testkit.Alice, map[string]string{"emoji": "nice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = testkit.Do(t, r, http.MethodPost, path, testkit.Alice, map[string]string{"emoji": "🎉"})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Reactions)

	w = testkit.Do(t, r, http.MethodPost, "/api/messages/nope/reactions", testkit.Alice, map[string]string{"emoji": "🎉"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload(t *testing.T) {
	r, _ := setup(t)

	body := func(name string, data []byte) (*bytes.Buffer, string) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		return &buf, mw.FormDataContentType()
	}

	do := func(name string, data []byte) (int, []byte) {
		buf, ct := body(name, data)
		req, err := http.NewRequest(http.MethodPost, "/api/attachments", buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Authorization", "Bearer "+testkit.Token(t, testkit.Alice))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code, w.Body.Bytes()
	}

	code, raw := do("notes.txt", []byte("standup at ten\n"))
	require.Equal(t, http.StatusCreated, code, string(raw))
	assert.Contains(t, string(raw), `"kind":"file"`)
	assert.Contains(t, string(raw), `"legacy":"[FILE] /files/`)

	code, _ = do("big.txt", bytes.Repeat([]byte("a"), 2<<10))
	assert.Equal(t, http.StatusBadRequest, code)
}
