package conversations

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/internchat/backend/internal/logging"
	"github.com/ageniuscoder/internchat/backend/internal/model"
	"github.com/ageniuscoder/internchat/backend/internal/presence"
	"github.com/ageniuscoder/internchat/backend/internal/testkit"
)

type listResp struct {
	Conversations []summaryView `json:"conversations"`
}

func TestListMineAndClear(t *testing.T) {
	ctx := context.Background()
	store := testkit.Store(t)
	pres := presence.NewMemory()
	require.NoError(t, pres.Online(ctx, "alice"))

	r, api := testkit.Router(store)
	Register(api, &Service{Store: store, Presence: pres, Log: logging.Discard()})

	for _, text := range []string{"hi", "how is the task going?"} {
		_, err := store.Append(ctx, "admin", "alice", model.Text(text), "")
		require.NoError(t, err)
	}
	time.Sleep(5 * time.Millisecond)
	_, err := store.Append(ctx, "bob", "admin", model.Text("done"), "")
	require.NoError(t, err)

	var resp listResp
	w := testkit.Do(t, r, http.MethodGet, "/api/conversations", testkit.Admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	testkit.Decode(t, w, &resp)
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, "bob", resp.Conversations[0].Peer.ID, "most recent first")
	assert.Equal(t, 1, resp.Conversations[0].Unread)
	assert.Equal(t, "alice", resp.Conversations[1].Peer.ID)
	assert.Equal(t, 0, resp.Conversations[1].Unread)
	assert.True(t, resp.Conversations[1].Online)

	resp = listResp{}
	w = testkit.Do(t, r, http.MethodGet, "/api/conversations", testkit.Alice, nil)
	testkit.Decode(t, w, &resp)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, 2, resp.Conversations[0].Unread)
	require.NotNil(t, resp.Conversations[0].LastMessage)
	assert.Equal(t, "how is the task going?", resp.Conversations[0].LastMessage.Content.Text)

	w = testkit.Do(t, r, http.MethodDelete, "/api/conversations/admin/messages", testkit.Alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = testkit.Do(t, r, http.MethodDelete, "/api/conversations/alice/messages", testkit.Admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":2}`, w.Body.String())

	resp = listResp{}
	w = testkit.Do(t, r, http.MethodGet, "/api/conversations", testkit.Admin, nil)
	testkit.Decode(t, w, &resp)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "bob", resp.Conversations[0].Peer.ID)
}
