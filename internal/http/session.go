package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"task-tracker/internal/service"
)

const (
	sessionCookie = "session"
	flashCookie   = "flash"
	identityKey   = "identity"
)

type flashKind string

const (
	flashSuccess flashKind = "success"
	flashInfo    flashKind = "info"
	flashWarning flashKind = "warning"
	flashDanger  flashKind = "danger"
)

// Flash is a one-shot status message shown on the next rendered page.
type Flash struct {
	Kind    flashKind
	Message string
}

func (h *Handler) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", h.secureCookie, true)
}

func (h *Handler) startSession(c *gin.Context, token string) {
	h.setCookie(c, sessionCookie, token, int(h.sessions.TTL().Seconds()))
}

func (h *Handler) endSession(c *gin.Context) {
	h.setCookie(c, sessionCookie, "", -1)
}

func (h *Handler) setFlash(c *gin.Context, kind flashKind, message string) {
	h.setCookie(c, flashCookie, string(kind)+"|"+message, 60)
}

// popFlash returns the pending flash message, if any, and clears it.
func (h *Handler) popFlash(c *gin.Context) *Flash {
	raw, err := c.Cookie(flashCookie)
	if err != nil || raw == "" {
		return nil
	}
	h.setCookie(c, flashCookie, "", -1)

	kind, message, ok := strings.Cut(raw, "|")
	if !ok || message == "" {
		return nil
	}
	switch flashKind(kind) {
	case flashSuccess, flashInfo, flashWarning, flashDanger:
	default:
		kind = string(flashInfo)
	}
	return &Flash{Kind: flashKind(kind), Message: message}
}

// sessionIdentity verifies the session cookie without side effects.
func (h *Handler) sessionIdentity(c *gin.Context) (service.Identity, bool) {
	token, err := c.Cookie(sessionCookie)
	if err != nil {
		return service.Identity{}, false
	}
	identity, err := h.sessions.Parse(token)
	if err != nil {
		return service.Identity{}, false
	}
	return identity, true
}

// requireAuth attaches the session identity to the request or redirects to
// the login page.
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := h.sessionIdentity(c)
		if ok {
			// the account may have been removed since the token was issued
			user, err := h.users.GetByID(c.Request.Context(), identity.UserID)
			switch {
			case err == nil:
				identity.Username = user.Username
			case errors.Is(err, service.ErrNotFound):
				ok = false
			default:
				h.serverError(c, err)
				c.Abort()
				return
			}
		}
		if !ok {
			if _, err := c.Cookie(sessionCookie); err == nil {
				h.endSession(c)
			}
			h.setFlash(c, flashWarning, "Please log in first.")
			c.Redirect(http.StatusSeeOther, "/login")
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// CurrentIdentity returns the identity attached by requireAuth.
func CurrentIdentity(c *gin.Context) (service.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return service.Identity{}, false
	}
	identity, ok := v.(service.Identity)
	return identity, ok
}
