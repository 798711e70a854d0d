package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

type ctxKey string

const (
	CtxUserID ctxKey = "uid"
	CtxSelf   ctxKey = "self"
)

// Directory mirrors verified identities into the participant table. It
// refuses identities that were removed with ErrRemoved.
type Directory interface {
	GetParticipant(ctx context.Context, id string) (model.Participant, error)
	UpsertParticipant(ctx context.Context, p model.Participant) (model.Participant, error)
}

// Authenticator checks bearer tokens against the secret and the directory.
type Authenticator struct {
	secret string
	dir    Directory
	log    *logrus.Entry
}

func NewAuthenticator(secret string, dir Directory, log *logrus.Entry) *Authenticator {
	return &Authenticator{secret: secret, dir: dir, log: log}
}

// Authenticate resolves a raw token to the participant it names. A profile
// the directory does not hold yet, or holds with stale claims, is written.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (model.Participant, error) {
	claims, err := ParseToken(a.secret, token)
	if err != nil {
		return model.Participant{}, err
	}
	p := claims.Participant()
	cur, err := a.dir.GetParticipant(ctx, p.ID)
	if err == nil && cur.Role == p.Role && cur.FullName == p.FullName {
		return p, nil
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return p, err
	}
	if _, err := a.dir.UpsertParticipant(ctx, p); err != nil {
		return p, err
	}
	a.log.WithFields(logrus.Fields{"user_id": p.ID, "role": p.Role}).Debug("participant recorded")
	return p, nil
}

// BearerToken reads the token from the Authorization header, or from the
// token query parameter for websocket upgrades.
func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		p, err := a.Authenticate(c.Request.Context(), tok)
		if err != nil {
			a.log.WithError(err).Debug("rejected token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid Token"})
			return
		}

		c.Set(string(CtxUserID), p.ID)
		c.Set(string(CtxSelf), p)
		c.Next()
	}
}

func MustUserID(c *gin.Context) string {
	if v, ok := c.Get(string(CtxUserID)); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func MustSelf(c *gin.Context) model.Participant {
	if v, ok := c.Get(string(CtxSelf)); ok {
		if p, ok := v.(model.Participant); ok {
			return p
		}
	}
	return model.Participant{}
}
