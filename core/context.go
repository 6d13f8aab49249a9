package core

import (
	"net/http"
	"reflect"
	"strings"
	"time"
)

// Response is a finished HTTP response produced by the pipeline or a module.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ConsumerIdentity names the authenticated caller. Authentication modules
// deposit it into the request context; the CRUD engine reads it when filling
// createdBy/updatedBy auto-fields.
type ConsumerIdentity struct {
	Name string
}

// RequestContext carries one request through the pipeline phases. It is owned
// exclusively by its handling goroutine and discarded after the Log phase.
type RequestContext struct {
	StartTime  time.Time
	ClientAddr string
	Method     string
	URI        string
	Path       string
	Headers    http.Header
	Query      map[string]string
	PathParams map[string]string

	RawBody  []byte
	JSONBody any // decoded request body, nil when absent

	Route *RoutePattern

	Result     any // response payload produced by the Data phase
	Status     int
	RespHeader http.Header

	exts map[reflect.Type]any
}

// NewRequestContext builds the context from an incoming request during the
// HeaderParse phase. Query parameters are split on '&'/'='; the first value
// wins on duplicate keys.
func NewRequestContext(r *http.Request) *RequestContext {
	rc := &RequestContext{
		StartTime:  time.Now(),
		ClientAddr: r.RemoteAddr,
		Method:     r.Method,
		URI:        r.RequestURI,
		Path:       r.URL.Path,
		Headers:    r.Header,
		Query:      parseQuery(r.URL.RawQuery),
		PathParams: map[string]string{},
		RespHeader: http.Header{},
	}
	return rc
}

func parseQuery(raw string) map[string]string {
	q := map[string]string{}
	for raw != "" {
		var pair string
		if i := strings.IndexByte(raw, '&'); i >= 0 {
			pair, raw = raw[:i], raw[i+1:]
		} else {
			pair, raw = raw, ""
		}
		if pair == "" {
			continue
		}
		key, val := pair, ""
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key, val = pair[:i], pair[i+1:]
		}
		if _, dup := q[key]; !dup {
			q[key] = val
		}
	}
	return q
}

// SetExt stores a value in the context's typed extensions bag, keyed by its
// concrete type. Later writes of the same type replace earlier ones.
func SetExt[T any](rc *RequestContext, v T) {
	if rc.exts == nil {
		rc.exts = map[reflect.Type]any{}
	}
	rc.exts[reflect.TypeOf((*T)(nil)).Elem()] = v
}

// GetExt retrieves a value of type T from the extensions bag.
func GetExt[T any](rc *RequestContext) (T, bool) {
	var zero T
	if rc.exts == nil {
		return zero, false
	}
	v, ok := rc.exts[reflect.TypeOf((*T)(nil)).Elem()]
	if !ok {
		return zero, false
	}
	return v.(T), true
}
