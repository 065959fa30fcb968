package server

import "github.com/labstack/echo/v4"

// MountEcho attaches the fleet API routes to an existing echo instance.
// The gin handler serves the requests; echo owns the outer server.
func (r *Router) MountEcho(e *echo.Echo) {
	h := echo.WrapHandler(r.Handler())
	if r.basePath == "" {
		e.Any("/*", h)
		return
	}
	e.Any(r.basePath, h)
	e.Any(r.basePath+"/*", h)
}
