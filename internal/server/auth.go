package server

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const contextUserIdKey = "userId"

// SessionAuth verifies the session token minted by the external auth
// collaborator (HS256, shared secret) and stores the subject as the
// request's user identity. Bearer header wins over the session cookie.
func (s *Server) SessionAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			if cookie, err := c.Cookie(s.auth.SessionCookie); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(s.auth.SessionSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || claims.Subject == "" {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		}

		c.Set(contextUserIdKey, claims.Subject)
		return next(c)
	}
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func userId(c echo.Context) string {
	id, _ := c.Get(contextUserIdKey).(string)
	return id
}
