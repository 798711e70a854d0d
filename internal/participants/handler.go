package participants

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

type listReq struct {
	Query string `form:"q" binding:"omitempty,max=64"`
}

type participantView struct {
	model.Participant
	Online bool `json:"online"`
}

func Register(rg *gin.RouterGroup, s *Service) {
	rg.GET("/me", s.getMe)
	rg.GET("/participants", s.list)
	rg.DELETE("/participants/:id", s.remove)
}

func (s *Service) getMe(c *gin.Context) {
	p, err := s.Store.GetParticipant(c.Request.Context(), auth.MustUserID(c))
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	httpx.OK(c, p)
}

// list returns the other side of the caller's role: admins for an intern,
// interns for an admin. ?q= narrows the list by name.
func (s *Service) list(c *gin.Context) {
	self := auth.MustSelf(c)
	var req listReq
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.BindFailed(c, err)
		return
	}
	role := model.RoleAdmin
	if self.Role == model.RoleAdmin {
		role = model.RoleIntern
	}
	all, err := s.Store.ListParticipants(c.Request.Context(), role, req.Query)
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}

	out := make([]participantView, 0, len(all))
	for _, p := range all {
		if !self.CanMessage(p) {
			continue
		}
		online, err := s.Presence.IsOnline(c.Request.Context(), p.ID)
		if err != nil {
			s.Log.WithError(err).Debug("presence lookup failed")
		}
		out = append(out, participantView{Participant: p, Online: online})
	}
	httpx.OK(c, gin.H{"participants": out})
}

func (s *Service) remove(c *gin.Context) {
	self := auth.MustSelf(c)
	if err := session.RequireAdmin(self); err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	id := c.Param("id")
	if id == self.ID {
		httpx.Err(c, http.StatusBadRequest, "cannot delete yourself")
		return
	}
	if _, err := s.Store.GetParticipant(c.Request.Context(), id); err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	n, err := s.Store.PurgeParticipant(c.Request.Context(), id)
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	s.Log.WithFields(logrus.Fields{"by": self.ID, "participant": id, "deleted": n}).Info("participant deleted")
	httpx.OK(c, gin.H{"deleted": n})
}
