// Package params normalizes the inputs of a transport request into one flat argument map.
package params

import (
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
)

const searchEndpointMarker = "_search"

// Request is the part of a transport request the extractor reads.
type Request struct {
	Method     string
	Path       string
	Query      url.Values
	PathParams map[string]string
	// Body is the raw request body. It is only read for write methods against search endpoints.
	Body []byte
}

// Args is the flat argument map. Values are strings, except for repeated query parameters
// which keep every value as a []string.
type Args map[string]any

// String returns the value of name if it is a single string.
func (a Args) String(name string) (string, bool) {
	s, ok := a[name].(string)
	return s, ok
}

// FromHTTPRequest builds a Request from r. The body is consumed and r.Body replaced so that
// later handlers can still read it.
func FromHTTPRequest(r *http.Request, pathParams map[string]string) (Request, error) {
	req := Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		PathParams: pathParams,
	}

	if r.Body == nil || !isWriteMethod(r.Method) {
		return req, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return Request{}, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	req.Body = body

	return req, nil
}

// Extract merges query parameters, body parameters and path parameters, in that order of
// increasing precedence. Body parameters only apply to write methods against search
// endpoints. Malformed input contributes nothing. The request is never modified.
func Extract(req Request) Args {
	args := make(Args, len(req.Query)+len(req.PathParams))

	for name, values := range req.Query {
		switch len(values) {
		case 0:
		case 1:
			args[name] = values[0]
		default:
			args[name] = append([]string(nil), values...)
		}
	}

	if isWriteMethod(req.Method) && isSearchEndpoint(req.Path) {
		maps.Copy(args, bodyParameters(req.Body))
	}

	for name, value := range req.PathParams {
		args[name] = value
	}

	return args
}

// bodyParameters reads a Parameters resource. Entries without a valueString are dropped.
func bodyParameters(body []byte) Args {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil
	}

	doc := gjson.ParseBytes(body)
	if doc.Get(resource.ResourceTypeKey).String() != resource.ParametersResourceType {
		return nil
	}

	parameters := doc.Get("parameter")
	if !parameters.IsArray() {
		return nil
	}

	out := make(Args)
	parameters.ForEach(func(_, p gjson.Result) bool {
		name := p.Get("name")
		value := p.Get("valueString")
		if name.Type != gjson.String || name.Str == "" || value.Type != gjson.String {
			return true
		}
		out[name.Str] = value.Str
		return true
	})

	return out
}

func isWriteMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

func isSearchEndpoint(path string) bool {
	return strings.Contains(path, searchEndpointMarker)
}
