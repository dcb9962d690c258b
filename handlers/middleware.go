package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

func requestToken(c echo.Context) string {
	if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	return c.FormValue("token")
}

// AuthMiddleware accepts the configured user token or a logged-in session.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token := requestToken(c); token != "" {
			if env.UserToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(env.UserToken)) != 1 {
				return c.JSON(http.StatusUnauthorized, errorBody("invalid token"))
			}
			return next(c)
		}

		session, err := store.Get(c.Request(), "session")
		if err != nil {
			log.Debugln("unreadable session:", err)
			return c.JSON(http.StatusUnauthorized, errorBody("not logged in"))
		}
		userID, ok := session.Values["user_id"]
		if !ok {
			return c.JSON(http.StatusUnauthorized, errorBody("not logged in"))
		}
		c.Set("user_id", userID)
		return next(c)
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
