// Package router mounts the three authentication planes (frontend, v1,
// system) onto a shared mux.Router, each with its own prefix-to-service
// table and credential requirement, and dispatches through the Proxy Engine.
package router

import "strings"

// serviceMapping names the backend a prefix resolves to and lists the
// upstream sub-paths it serves, mirroring frontend.py's
// FRONTEND_SERVICE_MAPPING shape (a prefix can list several sub-resources
// on one backend). Routing uses only the prefix; Paths is not checked
// against the request path.
type serviceMapping struct {
	ServiceName string
	Paths       []string
}

// FrontendMapping is the `/frontend/*` plane's prefix table.
var FrontendMapping = map[string]serviceMapping{
	"agents": {ServiceName: "agent-service", Paths: []string{
		"/agents", "/agents/templates", "/agents/execute", "/agents/teams", "/agents/tools", "/agents/models",
	}},
	"knowledge": {ServiceName: "knowledge-service", Paths: []string{
		"/knowledge", "/knowledge/upload", "/knowledge/documents", "/knowledge/chunks", "/knowledge/search", "/knowledge/embedding",
	}},
	"models": {ServiceName: "model-service", Paths: []string{
		"/models", "/models/providers", "/models/config", "/models/test",
	}},
	"users":       {ServiceName: "base-service", Paths: []string{"/users"}},
	"auth":        {ServiceName: "base-service", Paths: []string{"/auth"}},
	"permissions": {ServiceName: "base-service", Paths: []string{"/permissions"}},
	"resources":   {ServiceName: "base-service", Paths: []string{"/resources"}},
	"upload":         {ServiceName: "system-service", Paths: []string{"/upload"}},
	"files":          {ServiceName: "system-service", Paths: []string{"/files"}},
	"system-config":  {ServiceName: "system-service", Paths: []string{"/system-config"}},
}

// V1Mapping is the external `/v1/*` plane's prefix table.
var V1Mapping = map[string]serviceMapping{
	"knowledge-bases": {ServiceName: "knowledge-service", Paths: []string{"/knowledge-bases"}},
	"completions":     {ServiceName: "model-service", Paths: []string{"/completions"}},
	"embeddings":      {ServiceName: "model-service", Paths: []string{"/embeddings"}},
	"models":          {ServiceName: "model-service", Paths: []string{"/models"}},
	"agents":          {ServiceName: "agent-service", Paths: []string{"/agents"}},
}

// SystemMapping is the internal `/system/*` plane's prefix table, used only
// for prefixes resolved as "forward" by the route-mode table in system.go.
var SystemMapping = map[string]serviceMapping{
	"agents":     {ServiceName: "agent-service", Paths: []string{"/agents"}},
	"knowledge":  {ServiceName: "knowledge-service", Paths: []string{"/knowledge"}},
	"models":     {ServiceName: "model-service", Paths: []string{"/models"}},
	"base":       {ServiceName: "base-service", Paths: []string{"/base"}},
	"database":   {ServiceName: "database-service", Paths: []string{"/database"}},
}

// resolve looks up the first path segment of an unprefixed route
// (e.g. "agents/list" -> "agents") against a mapping table.
func resolve(mapping map[string]serviceMapping, path string) (serviceMapping, bool) {
	path = strings.TrimPrefix(path, "/")
	segment := path
	if idx := strings.Index(path, "/"); idx >= 0 {
		segment = path[:idx]
	}
	m, ok := mapping[segment]
	return m, ok
}

// validatePrefix rejects a configured prefix that already embeds "/api",
// which would double up with the Proxy Engine's own /api insertion for the
// frontend and v1 planes (resolved Open Question D.1).
func validatePrefix(prefix string) bool {
	return !strings.Contains(prefix, "/api")
}
