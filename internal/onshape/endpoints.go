package onshape

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultBaseURL is the public API host.
const DefaultBaseURL = "https://cad.onshape.com"

// Endpoints builds request targets relative to an API base URL.
type Endpoints struct {
	base *url.URL
}

// NewEndpoints parses baseURL, which must be absolute.
func NewEndpoints(baseURL string) (Endpoints, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return Endpoints{}, fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return Endpoints{}, fmt.Errorf("base url %q is not absolute", baseURL)
	}
	return Endpoints{base: u}, nil
}

// IsZero reports whether e was never initialised by NewEndpoints.
func (e Endpoints) IsZero() bool {
	return e.base == nil
}

// Base returns the API base URL.
func (e Endpoints) Base() *url.URL {
	if e.base == nil {
		return nil
	}
	copied := *e.base
	return &copied
}

// Login is the session endpoint used for POST login.
func (e Endpoints) Login() string {
	return e.build(nil, "api", "users", "session")
}

// SessionInfo reports the current session.
func (e Endpoints) SessionInfo() string {
	return e.build(nil, "api", "v5", "users", "sessioninfo")
}

// Documents lists the 20 most recently modified documents, filtered by query
// when it is non-empty.
func (e Endpoints) Documents(query string) string {
	q := orderedQuery{}
	q.add("sortColumn", "modifiedAt")
	q.add("sortOrder", "desc")
	q.add("offset", "0")
	q.add("limit", "20")
	if query != "" {
		q.add("filter", "0")
		q.add("q", query)
	}
	return e.build(q, "api", "documents")
}

// Elements lists the elements of one workspace with thumbnails.
func (e Endpoints) Elements(documentID, workspaceID string) string {
	q := orderedQuery{}
	q.add("withThumbnails", "true")
	return e.build(q, "api", "v5", "documents", "d", documentID, "w", workspaceID, "elements")
}

// Parts describes an assembly, including its part list.
func (e Endpoints) Parts(ref ElementRef) string {
	return e.build(nil, "api", "v5", "assemblies", "d", ref.DocumentID, "w", ref.WorkspaceID, "e", ref.ElementID)
}

// PartStudioSTL exports a part studio as STL.
func (e Endpoints) PartStudioSTL(ref ElementRef, opts ExportOptions) string {
	q := orderedQuery{}
	q.add("a", "a")
	opts.appendTo(&q)
	return e.build(q, "api", "v5", "partstudios", "d", ref.DocumentID, "w", ref.WorkspaceID, "e", ref.ElementID, "stl")
}

// AssemblySTL exports an assembly as binary STL.
func (e Endpoints) AssemblySTL(ref ElementRef, opts ExportOptions) string {
	q := orderedQuery{}
	q.add("format", "STL")
	q.add("destinationName", "export")
	q.add("mode", "binary")
	q.add("triggerAutoDownload", "true")
	q.add("storeInDocument", "false")
	q.add("configuration", "")
	q.add("resolution", "custom")
	q.add("grouping", "true")
	opts.appendTo(&q)
	return e.build(q, "api", "documents", "d", ref.DocumentID, "w", ref.WorkspaceID, "e", ref.ElementID, "export")
}

// Units are sent lower-cased; the Default sentinel omits the parameter.
func (o ExportOptions) appendTo(q *orderedQuery) {
	q.addOptional("scale", o.Scale)
	units := strings.TrimSpace(o.Units)
	if !strings.EqualFold(units, DefaultUnits) {
		q.addOptional("units", strings.ToLower(units))
	}
	q.addOptional("angleTolerance", o.AngleTolerance)
	q.addOptional("chordTolerance", o.ChordTolerance)
	q.addOptional("maxFacetWidth", o.MaxFacetWidth)
	q.addOptional("minFacetWidth", o.MinFacetWidth)
}

func (e Endpoints) build(q orderedQuery, segments ...string) string {
	var b strings.Builder
	b.WriteString(e.base.Scheme)
	b.WriteString("://")
	b.WriteString(e.base.Host)
	b.WriteString(strings.TrimRight(e.base.EscapedPath(), "/"))
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	if len(q) > 0 {
		b.WriteByte('?')
		b.WriteString(q.encode())
	}
	return b.String()
}

// orderedQuery keeps parameters in insertion order; url.Values sorts keys.
type orderedQuery []queryParam

type queryParam struct {
	key   string
	value string
}

func (q *orderedQuery) add(key, value string) {
	*q = append(*q, queryParam{key: key, value: value})
}

func (q *orderedQuery) addOptional(key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		q.add(key, value)
	}
}

func (q orderedQuery) encode() string {
	parts := make([]string, 0, len(q))
	for _, p := range q {
		parts = append(parts, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
	}
	return strings.Join(parts, "&")
}
