package apicall

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// NormalizationRule reshapes a raw provider payload. It is either a Mapping
// or a NormalizeFunc.
type NormalizationRule interface {
	apply(svc *Service, params Params, raw any, logger *zerolog.Logger) (any, error)
}

// Mapping builds a new object from dot-notation paths into the raw payload:
// target key -> source path.
//
// A path that does not resolve is logged and the key omitted; a Mapping never
// fails.
//
// Example:
//
//	apicall.Mapping{"accessToken": "tokens.access_token", "firstEmail": "emails.0.address"}
type Mapping map[string]string

func (m Mapping) apply(_ *Service, _ Params, raw any, logger *zerolog.Logger) (any, error) {
	out := make(map[string]any, len(m))
	for target, path := range m {
		v, ok := LookupPath(raw, path)
		if !ok {
			logger.Warn().
				Str("target", target).
				Str("path", path).
				Msg("normalization path not found in response, key omitted")
			continue
		}
		out[target] = v
	}
	return out, nil
}

// NormalizeFunc computes the normalized payload. Its return value is used
// verbatim and its error propagates to the caller unchanged.
type NormalizeFunc func(svc *Service, params Params, raw any) (any, error)

func (f NormalizeFunc) apply(svc *Service, params Params, raw any, _ *zerolog.Logger) (any, error) {
	return f(svc, params, raw)
}

// Normalize applies the endpoint rule to raw. Endpoints without a rule pass
// raw through unchanged.
func (s *Service) Normalize(ep *Endpoint, params Params, raw any) (any, error) {
	if ep == nil || ep.Normalize == nil {
		return raw, nil
	}
	logger := s.cfg.logger.With().Str("endpoint", ep.Name).Logger()
	return ep.Normalize.apply(s, params, raw, &logger)
}

// LookupPath walks data along a dot-separated path. Map keys and slice
// indexes are both accepted as segments.
func LookupPath(data any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	cur := data
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, seg string) (any, bool) {
	switch node := cur.(type) {
	case map[string]any:
		v, ok := node[seg]
		return v, ok
	case []any:
		return index(len(node), seg, func(i int) any { return node[i] })
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		return index(rv.Len(), seg, func(i int) any { return rv.Index(i).Interface() })
	default:
		return nil, false
	}
}

func index(n int, seg string, at func(int) any) (any, bool) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i >= n {
		return nil, false
	}
	return at(i), true
}
