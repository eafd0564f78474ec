package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// Health and scrape endpoints answer plain text and are not part of the API document.
var unvalidatedPaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

const maxReportedBody = 200

// OpenAPIValidator checks traffic of the test client against api/openapi/openapi.yaml.
type OpenAPIValidator struct {
	doc    *openapi3.T
	router routers.Router
}

// NewOpenAPIValidator loads the document at path or fails the test.
func NewOpenAPIValidator(t *testing.T, path string) *OpenAPIValidator {
	t.Helper()

	v, err := LoadOpenAPIValidator(path)
	if err != nil {
		t.Fatalf("load OpenAPI validator: %v", err)
	}
	return v
}

// LoadOpenAPIValidator loads the document at path. It is meant for TestMain,
// where no *testing.T exists yet.
func LoadOpenAPIValidator(path string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build OpenAPI router: %w", err)
	}

	return &OpenAPIValidator{doc: doc, router: router}, nil
}

// route resolves the documented operation for method and path. The legacy
// router matches on the path alone, so the lookup request carries no host or body.
func (v *OpenAPIValidator) route(method, path string) (*routers.Route, map[string]string, error) {
	lookup, err := http.NewRequest(method, path, nil)
	if err != nil {
		return nil, nil, err
	}
	return v.router.FindRoute(lookup)
}

// ValidateRequest reports on t every way req deviates from the document.
// Authentication is not checked here.
func (v *OpenAPIValidator) ValidateRequest(t *testing.T, req *http.Request) {
	t.Helper()

	if _, skip := unvalidatedPaths[req.URL.Path]; skip {
		return
	}

	route, params, err := v.route(req.Method, req.URL.Path)
	if err != nil {
		t.Errorf("undocumented operation %s %s: %v", req.Method, req.URL.Path, err)
		return
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: params,
		Route:      route,
		Options: &openapi3filter.Options{
			MultiError:         true,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}
	if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
		t.Errorf("request %s %s does not match the API document: %v", req.Method, req.URL.Path, err)
	}
}

// ValidateResponse reports on t every way resp deviates from the documented
// response of req. The body is read and put back so callers can still decode it.
func (v *OpenAPIValidator) ValidateResponse(t *testing.T, req *http.Request, resp *http.Response) {
	t.Helper()

	if _, skip := unvalidatedPaths[req.URL.Path]; skip {
		return
	}

	route, params, err := v.route(req.Method, req.URL.Path)
	if err != nil {
		t.Errorf("undocumented operation %s %s: %v", req.Method, req.URL.Path, err)
		return
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		t.Errorf("read response body: %v", err)
		return
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: params,
			Route:      route,
		},
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	}
	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		t.Errorf("response %d to %s %s does not match the API document:\n%s\nbody: %s",
			resp.StatusCode, req.Method, req.URL.Path, clip(err.Error(), 500), clip(string(body), maxReportedBody))
	}
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
