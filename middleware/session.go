package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cppla/alsoviewed/utils"
)

// ContextSessionKey stores the visitor's *utils.Session inside Gin context.
const ContextSessionKey = "visitor_session"

// SessionOptions configures the visitor session cookie.
type SessionOptions struct {
	CookieName string
	MaxAge     int // seconds
	Secure     bool
}

// VisitorSession binds every request to a session id carried in a cookie,
// issuing a fresh random id when the cookie is missing or malformed.
func VisitorSession(store *utils.SessionStore, opts SessionOptions) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sid, err := ctx.Cookie(opts.CookieName)
		if err == nil {
			_, err = uuid.Parse(sid)
		}
		if err != nil {
			sid = uuid.NewString()
		}
		// Refresh on every request so the cookie lives as long as the server-side state.
		ctx.SetSameSite(http.SameSiteLaxMode)
		ctx.SetCookie(opts.CookieName, sid, opts.MaxAge, "/", "", opts.Secure, true)
		ctx.Set(ContextSessionKey, store.Open(sid))
		ctx.Next()
	}
}

// SessionFrom returns the session bound by VisitorSession, or nil.
func SessionFrom(ctx *gin.Context) *utils.Session {
	v, ok := ctx.Get(ContextSessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*utils.Session)
	return sess
}
