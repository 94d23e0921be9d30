package http

import "github.com/labstack/echo/v4"

// Handler registers its routes on a standalone server.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(e *echo.Echo)

func (f HandlerFunc) RegisterRoutes(e *echo.Echo) { f(e) }

// Router is satisfied by both *echo.Echo and *echo.Group. Handlers that only
// expose GET endpoints register against it so they can be mounted anywhere.
type Router interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// Mounter is a Handler that can also be embedded in a host application's group.
type Mounter interface {
	Handler
	Mount(g *echo.Group)
}
