package conversations

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/auth"
	"github.com/ageniuscoder/internchat/backend/internal/httpx"
	"github.com/ageniuscoder/internchat/backend/internal/model"
	"github.com/ageniuscoder/internchat/backend/internal/presence"
	"github.com/ageniuscoder/internchat/backend/internal/session"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlstore"
)

type Service struct {
	Store    *sqlstore.Store
	Presence presence.Tracker
	Log      *logrus.Entry
}

type summaryView struct {
	model.ConversationSummary
	Online bool `json:"online"`
}

func Register(rg *gin.RouterGroup, s *Service) {
	rg.GET("/conversations", s.listMine)
	rg.DELETE("/conversations/:peer/messages", s.clear)
}

// listMine is the sidebar: one row per peer with the last message and the
// number of the peer's messages the caller has not read yet.
func (s *Service) listMine(c *gin.Context) {
	uid := auth.MustUserID(c)
	sums, err := s.Store.Conversations(c.Request.Context(), uid)
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	out := make([]summaryView, 0, len(sums))
	for _, sum := range sums {
		online, err := s.Presence.IsOnline(c.Request.Context(), sum.Peer.ID)
		if err != nil {
			s.Log.WithError(err).Debug("presence lookup failed")
		}
		out = append(out, summaryView{ConversationSummary: sum, Online: online})
	}
	httpx.OK(c, gin.H{"conversations": out})
}

func (s *Service) clear(c *gin.Context) {
	self := auth.MustSelf(c)
	if err := session.RequireAdmin(self); err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	peer := c.Param("peer")
	if peer == self.ID {
		httpx.Err(c, http.StatusBadRequest, "invalid peer")
		return
	}
	n, err := s.Store.PurgeConversation(c.Request.Context(), self.ID, peer)
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	s.Log.WithFields(logrus.Fields{"by": self.ID, "peer": peer, "deleted": n}).Info("conversation cleared")
	httpx.OK(c, gin.H{"deleted": n})
}
