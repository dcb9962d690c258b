package handlers

import "github.com/labstack/echo/v4"

// Register mounts the API on e. Everything but login and logout needs
// AuthMiddleware.
func Register(e *echo.Echo) {
	e.POST("/login", LoginPost)
	e.POST("/logout", LogoutPost)

	e.POST("/stash", StashPost, AuthMiddleware)
	e.GET("/resolve", ResolveGet, AuthMiddleware)
	e.GET("/items", ItemsGet, AuthMiddleware)
	e.GET("/items/:id", ItemGet, AuthMiddleware)
	e.POST("/items/:id/retry", ItemRetryPost, AuthMiddleware)
	e.GET("/items/:id/progress", ItemProgressGet, AuthMiddleware)
	e.GET("/items/:id/events", ItemEventsGet, AuthMiddleware)
	e.GET("/playlists/:id", PlaylistGet, AuthMiddleware)
	e.GET("/status", StatusGet, AuthMiddleware)

	mediaGroup := e.Group("/media")
	mediaGroup.Use(AuthMiddleware)
	mediaGroup.Static("/", env.MediaDir)
}
