package router

// routeMode says whether a system-plane prefix is handled in-process by the
// gateway itself ("local") or proxied to a backend like the other planes
// ("forward"). Resolved Open Question D.3.
type routeMode int

const (
	modeForward routeMode = iota
	modeLocal
)

var systemRouteModes = map[string]routeMode{
	"tasks":      modeLocal,
	"services":   modeLocal,
	"monitoring": modeLocal,
	"config":     modeLocal,
}

func systemModeFor(prefix string) routeMode {
	if mode, ok := systemRouteModes[prefix]; ok {
		return mode
	}
	return modeForward
}
