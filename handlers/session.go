package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"stashcast/users"
)

func LoginPost(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")

	user, err := users.Authenticate(env.DB, username, password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		return c.JSON(http.StatusUnauthorized, errorBody("Invalid credentials"))
	}
	if err != nil {
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("Unable to check credentials"))
	}

	// a stale cookie still yields a fresh session to overwrite
	session, err := store.Get(c.Request(), "session")
	if err != nil {
		log.Debugln("replacing unreadable session:", err)
	}
	session.Values["user_id"] = user.ID
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("Unable to save session"))
	}
	log.Infof("%s logged in", user.Username)
	return c.JSON(http.StatusOK, map[string]string{"username": user.Username})
}

func LogoutPost(c echo.Context) error {
	session, _ := store.Get(c.Request(), "session")
	delete(session.Values, "user_id")
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		log.Errorln(err)
	}
	return c.NoContent(http.StatusNoContent)
}
