package api

import (
	"fmt"
	"html"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// Endpoints lists the routes served by the API. Every /api route is also
// served without the prefix.
var Endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: "/api/health", Method: "GET", Description: "Health check"},
	{Path: "/api/devices", Method: "GET", Description: "List all devices"},
	{Path: "/api/devices/{id}", Method: "GET", Description: "Get one device"},
	{Path: "/api/devices/{id}/toggle", Method: "POST", Description: "Invert isOn"},
	{Path: "/api/devices/{id}/update", Method: "POST", Description: "Apply {isOn?, temperature?, color?}"},
	{Path: "/ws", Method: "GET", Description: "Websocket event bus"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap lists the endpoints, as HTML for browsers and plain text
// otherwise.
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>Smart Home API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 12px; margin: 8px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
    </style>
</head>
<body>
    <h1>Smart Home API</h1>
`)
		for _, ep := range Endpoints {
			fmt.Fprintf(w, `    <div class="endpoint"><span class="method">%s</span> <span class="path">%s</span> %s</div>
`, ep.Method, html.EscapeString(ep.Path), html.EscapeString(ep.Description))
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Smart Home API\n")
		fmt.Fprintf(w, "==============\n\n")
		for _, ep := range Endpoints {
			fmt.Fprintf(w, "  %-6s %-28s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExample:\n\n")
		fmt.Fprintf(w, "  curl -X POST http://localhost:3000/api/devices/1/toggle\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}
