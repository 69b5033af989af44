package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"

	"levelquest/internal/observability"

	"github.com/gin-gonic/gin"
)

// RouteInfo describes one registered route
type RouteInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	HandlerName string `json:"handler_name"`
}

// RouteListing is the JSON shape served at / with ?json=true
type RouteListing struct {
	Service string         `json:"service"`
	Routes  []RouteInfo    `json:"routes"`
	Methods map[string]int `json:"methods"`
}

// RouteListingHandler lists the routes registered on an engine
type RouteListingHandler struct {
	serviceName string
	routes      []RouteInfo
}

// NewRouteListingHandler creates a new route listing handler
func NewRouteListingHandler(serviceName string) *RouteListingHandler {
	return &RouteListingHandler{
		serviceName: serviceName,
		routes:      []RouteInfo{},
	}
}

// CollectRoutes snapshots the engine's routes, sorted by path then method
func (h *RouteListingHandler) CollectRoutes(engine *gin.Engine) {
	h.routes = []RouteInfo{}
	for _, route := range engine.Routes() {
		if strings.HasPrefix(route.Path, "/debug/") {
			continue
		}
		h.routes = append(h.routes, RouteInfo{
			Method:      route.Method,
			Path:        route.Path,
			HandlerName: shortHandlerName(route.Handler),
		})
	}
	sort.Slice(h.routes, func(i, j int) bool {
		if h.routes[i].Path == h.routes[j].Path {
			return h.routes[i].Method < h.routes[j].Method
		}
		return h.routes[i].Path < h.routes[j].Path
	})
}

// shortHandlerName trims the module path from gin's handler names
func shortHandlerName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// Listing returns the collected routes with per-method counts
func (h *RouteListingHandler) Listing() RouteListing {
	methods := make(map[string]int)
	for _, route := range h.routes {
		methods[route.Method]++
	}
	routes := make([]RouteInfo, len(h.routes))
	copy(routes, h.routes)
	return RouteListing{Service: h.serviceName, Routes: routes, Methods: methods}
}

// GetRouteListingText writes the routes as an aligned plain-text table
func (h *RouteListingHandler) GetRouteListingText(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_route_listing_text")
	defer observability.FinishSpan(span, nil)

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d routes\n\n", h.serviceName, len(h.routes))
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, route := range h.routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", route.Method, route.Path, route.HandlerName)
	}
	_ = tw.Flush()

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.String(http.StatusOK, b.String())
}

// GetRouteListingJSON returns the route listing as JSON
func (h *RouteListingHandler) GetRouteListingJSON(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_route_listing_json")
	defer observability.FinishSpan(span, nil)
	c.JSON(http.StatusOK, h.Listing())
}

// Serve picks JSON or text based on the json query parameter
func (h *RouteListingHandler) Serve(c *gin.Context) {
	if c.Query("json") == "true" {
		h.GetRouteListingJSON(c)
		return
	}
	h.GetRouteListingText(c)
}
