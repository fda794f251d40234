package middleware

import "github.com/labstack/echo/v4"

const userIDKey = "user_id"

// UserID returns the authenticated caller set by JWTAuth.
func UserID(c echo.Context) (string, bool) {
	s, ok := c.Get(userIDKey).(string)
	return s, ok && s != ""
}

// callerKey identifies the caller for rate limiting: the user when
// authenticated, otherwise the client IP.
func callerKey(c echo.Context) string {
	if uid, ok := UserID(c); ok {
		return "user:" + uid
	}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
