package httpserver

import (
	"net/http"
	"time"

	authusecase "quizportal/backend/internal/usecase/auth"
)

const (
	accessCookieName  = "token"
	refreshCookieName = "refreshToken"
)

type cookieConfig struct {
	enabled bool
	secure  bool
	ttl     time.Duration
}

// setSession stores both tokens as HttpOnly cookies when cookies are enabled.
func (c cookieConfig) setSession(w http.ResponseWriter, pair authusecase.TokenPair) {
	if !c.enabled {
		return
	}
	http.SetCookie(w, c.cookie(accessCookieName, pair.AccessToken, int(c.ttl.Seconds())))
	http.SetCookie(w, c.cookie(refreshCookieName, pair.RefreshToken, int(c.ttl.Seconds())))
}

// clear expires both session cookies.
func (c cookieConfig) clear(w http.ResponseWriter) {
	if !c.enabled {
		return
	}
	http.SetCookie(w, c.cookie(accessCookieName, "", -1))
	http.SetCookie(w, c.cookie(refreshCookieName, "", -1))
}

func (c cookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	}
}
