package messages

import (
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/attachments"
	"github.com/ageniuscoder/internchat/backend/internal/auth"
	"github.com/ageniuscoder/internchat/backend/internal/httpx"
	"github.com/ageniuscoder/internchat/backend/internal/model"
	"github.com/ageniuscoder/internchat/backend/internal/reactions"
	"github.com/ageniuscoder/internchat/backend/internal/session"
	"github.com/ageniuscoder/internchat/backend/internal/storage/sqlstore"
)

const defaultPageSize = 50

type Service struct {
	Store     *sqlstore.Store
	Ledger    *reactions.Ledger
	Uploader  *attachments.Uploader
	MaxUpload int64
	Log       *logrus.Entry
}

type sendReq struct {
	Content  *model.Content `json:"content" binding:"required"`
	ClientID string         `json:"client_id" binding:"omitempty,max=64"`
}

type pageReq struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

type reactReq struct {
	Emoji string `json:"emoji" binding:"required,max=64"`
}

func Register(rg *gin.RouterGroup, s *Service) {
	rg.GET("/conversations/:peer/messages", s.list)
	rg.POST("/conversations/:peer/messages", s.send)
	rg.POST("/messages/:id/reactions", s.react)
	rg.POST("/attachments", s.upload)
}

func (s *Service) list(c *gin.Context) {
	self := auth.MustSelf(c)
	var q pageReq
	if err := c.ShouldBindQuery(&q); err != nil {
		httpx.BindFailed(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultPageSize
	}
	peer, err := session.CheckPeer(c.Request.Context(), s.Store, self, c.Param("peer"))
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}

	page, err := s.Store.Query(c.Request.Context(), self.ID, peer.ID, q.Cursor, q.Limit)
	if err != nil {
		if errors.Is(err, apperr.ErrStorageUnavailable) {
			httpx.Fail(c, s.Log, err)
			return
		}
		httpx.Err(c, http.StatusBadRequest, "invalid cursor")
		return
	}
	httpx.OK(c, page)
}

func (s *Service) send(c *gin.Context) {
	self := auth.MustSelf(c)
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindFailed(c, err)
		return
	}
	peer, err := session.CheckPeer(c.Request.Context(), s.Store, self, c.Param("peer"))
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}

	m, err := s.Store.Append(c.Request.Context(), self.ID, peer.ID, *req.Content, req.ClientID)
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	httpx.Created(c, m)
}

func (s *Service) react(c *gin.Context) {
	self := auth.MustSelf(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid message id")
		return
	}
	var req reactReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindFailed(c, err)
		return
	}

	m, err := s.Store.Get(c.Request.Context(), id)
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	if !session.CanSee(self, m) {
		httpx.Err(c, http.StatusNotFound, "message not found")
		return
	}
	m, err = s.Ledger.Toggle(c.Request.Context(), id, req.Emoji, self.ID)
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	httpx.OK(c, gin.H{"message": m, "summary": m.Reactions.Summaries()})
}

// upload stores the multipart "file" field and answers with the content to
// send in a follow-up message.
func (s *Service) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxUpload+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "missing or oversized file (max "+humanize.Bytes(uint64(s.MaxUpload))+")")
		return
	}
	f, err := fh.Open()
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}
	defer f.Close()

	content, err := s.Uploader.Upload(c.Request.Context(), fh.Filename, f)
	if err != nil {
		httpx.Fail(c, s.Log, err)
		return
	}
	httpx.Created(c, gin.H{"content": content, "legacy": content.String()})
}
