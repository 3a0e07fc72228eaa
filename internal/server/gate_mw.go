package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"nithronos/device/nosfw/internal/access"
	"nithronos/device/nosfw/internal/ratelimit"
	"nithronos/device/nosfw/pkg/httpx"
)

type ctxKey string

const ctxAdminUser ctxKey = "adminUser"

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// requireClass runs every request of a route through the access gate.
// Clients that keep presenting wrong credentials are refused for a while;
// limiter may be nil.
func requireClass(g *access.Gate, limiter *ratelimit.Limiter, class access.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := access.Request{Class: class}
			if class != access.Open {
				req.Username, req.Password, req.HasBasic = r.BasicAuth()
				if ck, err := r.Cookie(access.SessionCookieName); err == nil {
					req.SessionCookie = ck.Value
				}
			}
			key := clientKey(r)
			if req.HasBasic && limiter != nil {
				if blocked, reset := limiter.Blocked(key); blocked {
					retry := int(time.Until(reset).Seconds()) + 1
					httpx.WriteTypedError(w, http.StatusTooManyRequests, "auth.rate_limited", "Too many failed attempts", retry)
					return
				}
			}
			d := g.Authorize(req)
			switch d.Verdict {
			case access.Redirect:
				w.Header().Set("Location", d.Target)
				httpx.WriteTypedError(w, http.StatusSeeOther, "setup.required", "Device is not provisioned", 0)
				return
			case access.Challenge:
				if req.HasBasic && limiter != nil {
					limiter.Fail(key)
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="nosfw"`)
				httpx.WriteTypedError(w, http.StatusUnauthorized, "auth.required", "Administrator credentials required", 0)
				return
			}
			if d.Session != nil && limiter != nil {
				limiter.Reset(key)
			}
			if d.Session != nil && g.Sessions() != nil {
				if ck, err := g.Sessions().Cookie(*d.Session, r.TLS != nil); err == nil {
					http.SetCookie(w, ck)
				}
			}
			if d.User != "" {
				r = r.WithContext(context.WithValue(r.Context(), ctxAdminUser, d.User))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminUser returns the authenticated admin, or "" on unprotected devices.
func adminUser(r *http.Request) string {
	u, _ := r.Context().Value(ctxAdminUser).(string)
	return u
}
