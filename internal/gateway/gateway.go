// Package gateway composes the market data routes for standalone or embedded use.
package gateway

import (
	"strings"

	"OhlcvAPI/internal/handler/api"
	"OhlcvAPI/internal/handler/ws"
	xhttp "OhlcvAPI/pkg/http"

	"github.com/labstack/echo/v4"
)

var _ xhttp.Mounter = (*Gateway)(nil)

// Gateway mounts the HTTP and WebSocket handlers under one prefix.
type Gateway struct {
	market *api.MarketHandler
	live   *ws.Handler
	prefix string
}

func New(market *api.MarketHandler, live *ws.Handler, prefix string) *Gateway {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return &Gateway{market: market, live: live, prefix: prefix}
}

// Prefix is the normalized mount prefix, "" for the root.
func (g *Gateway) Prefix() string { return g.prefix }

// RegisterRoutes mounts everything on a standalone server.
func (g *Gateway) RegisterRoutes(e *echo.Echo) {
	if g.prefix == "" {
		g.register(e)
		return
	}
	g.Mount(e.Group(g.prefix))
}

// Mount adds the routes to a group owned by a host application.
func (g *Gateway) Mount(grp *echo.Group) {
	g.register(grp)
}

func (g *Gateway) register(r xhttp.Router) {
	g.market.Register(r)
	if g.live != nil {
		g.live.Register(r)
	}
}
