package apicall

import (
	"regexp"
	"strings"
)

// placeholderPattern matches ":name" segments directly after a path separator.
var placeholderPattern = regexp.MustCompile(`/:([A-Za-z_][A-Za-z0-9_]*)`)

// IsAbsoluteURL reports whether template carries its own scheme.
func IsAbsoluteURL(template string) bool {
	return strings.Contains(template, "://")
}

// ResolveURL turns template and pathParams into a concrete URL.
//
// Relative templates are joined to baseURL. Each "/:name" placeholder is
// replaced literally with pathParams[name]; values are not escaped. Query
// parameters are not handled here, they travel separately to the transport.
//
// Example:
//
//	u, err := apicall.ResolveURL("https://api.example.com", "/users/:userId/details",
//	    map[string]string{"userId": "123"})
//	// u == "https://api.example.com/users/123/details"
func ResolveURL(baseURL, template string, pathParams map[string]string) (string, error) {
	full := template
	if !IsAbsoluteURL(template) {
		full = joinURL(baseURL, template)
	}

	var missing string
	resolved := placeholderPattern.ReplaceAllStringFunc(full, func(m string) string {
		name := m[2:]
		v, ok := pathParams[name]
		if !ok || v == "" {
			if missing == "" {
				missing = name
			}
			return m
		}
		return "/" + v
	})
	if missing != "" {
		return "", &MissingPathParameterError{Template: template, Param: missing}
	}

	return resolved, nil
}

// Placeholders lists the parameter names referenced by template, in order.
func Placeholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

func joinURL(baseURL, path string) string {
	if baseURL == "" {
		return path
	}
	if path == "" {
		return baseURL
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
