// AngelaMos | 2026
// cookie.go

package session

import (
	"net/http"
	"time"

	"github.com/carterperez-dev/templates/credential-engine/internal/config"
)

// Cookies carries the refresh secret. It is HttpOnly and scoped to the
// refresh and logout path, so page scripts and other endpoints never see it.
type Cookies struct {
	cfg config.CookieConfig
	now func() time.Time
}

func NewCookies(cfg config.CookieConfig) *Cookies {
	return &Cookies{cfg: cfg, now: time.Now}
}

func (c *Cookies) Set(w http.ResponseWriter, raw string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(c.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    raw,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		Secure:   c.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    "",
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   c.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Cookies) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.cfg.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
