package middleware

import (
	"path"
	"strings"
)

// RouteClass is the gate's view of a request path.
type RouteClass int

const (
	RouteAppPage RouteClass = iota
	RouteUploadAsset
	RouteAPI
	RoutePublicAuthPage
	RouteStaticFile
	RouteFrameworkInternal
)

func (c RouteClass) String() string {
	switch c {
	case RouteUploadAsset:
		return "upload-asset"
	case RouteAPI:
		return "api"
	case RoutePublicAuthPage:
		return "public-auth-page"
	case RouteStaticFile:
		return "static-file"
	case RouteFrameworkInternal:
		return "framework-internal"
	default:
		return "app-page"
	}
}

type routeRule struct {
	match func(p string) bool
	class RouteClass
}

// routeTable is evaluated top to bottom; the first match wins and anything
// unmatched is an app page. Uploads come first so no other rule can expose
// the private upload directory.
var routeTable = []routeRule{
	{underPrefix("/uploads"), RouteUploadAsset},
	{underPrefix("/api"), RouteAPI},
	{oneOf("/login", "/register", "/forgot-password", "/reset-password"), RoutePublicAuthPage},
	{hasExtension, RouteStaticFile},
	{underPrefix("/_internal", "/static", "/health", "/metrics"), RouteFrameworkInternal},
}

// ClassifyRoute maps a URL path to exactly one RouteClass.
func ClassifyRoute(urlPath string) RouteClass {
	p := path.Clean("/" + urlPath)
	for _, rule := range routeTable {
		if rule.match(p) {
			return rule.class
		}
	}
	return RouteAppPage
}

func underPrefix(prefixes ...string) func(string) bool {
	return func(p string) bool {
		for _, prefix := range prefixes {
			if p == prefix || strings.HasPrefix(p, prefix+"/") {
				return true
			}
		}
		return false
	}
}

func oneOf(paths ...string) func(string) bool {
	return func(p string) bool {
		for _, candidate := range paths {
			if p == candidate {
				return true
			}
		}
		return false
	}
}

func hasExtension(p string) bool {
	last := path.Base(p)
	i := strings.LastIndexByte(last, '.')
	return i > 0 && i < len(last)-1
}
