// Package onshape holds the data model, endpoint builders and response
// decoders for the CAD document-management API.
package onshape

import "strings"

// Session cookie names set by the login endpoint.
const (
	SessionCookieName = "on"
	XSRFCookieName    = "XSRF-TOKEN"
)

// AuthToken is the pair of cookies issued by a successful login.
type AuthToken struct {
	SessionCookie string `json:"session_cookie" yaml:"session_cookie"`
	XSRFCookie    string `json:"xsrf_cookie" yaml:"xsrf_cookie"`
}

// IsZero reports whether the token carries no session cookie.
func (t AuthToken) IsZero() bool {
	return t.SessionCookie == ""
}

// DocumentSummary is one entry of the document list.
type DocumentSummary struct {
	Name           string `json:"name"`
	ID             string `json:"id"`
	ResourceType   string `json:"resourceType"`
	IsContainer    bool   `json:"isContainer"`
	ModifiedAt     string `json:"modifiedAt"`
	ModifiedByName string `json:"modifiedByName"`
	WorkspaceID    string `json:"workspaceId"`
	ThumbnailRef   string `json:"thumbnailHref"`
}

// Element types reported by the API.
const (
	ElementTypePartStudio  = "PARTSTUDIO"
	ElementTypeAssembly    = "ASSEMBLY"
	ElementTypeDrawing     = "DRAWING"
	ElementTypeBlob        = "BLOB"
	ElementTypeApplication = "APPLICATION"
)

// ElementSummary is one tab of a document workspace.
type ElementSummary struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	DocumentID   string `json:"documentId"`
	WorkspaceID  string `json:"workspaceId"`
	Type         string `json:"type"`
	ThumbnailRef string `json:"thumbnailHref"`
}

// IsPartStudio reports whether the element exports through the part studio endpoint.
func (e ElementSummary) IsPartStudio() bool {
	return strings.EqualFold(e.Type, ElementTypePartStudio)
}

// Ref returns the element coordinates.
func (e ElementSummary) Ref() ElementRef {
	return ElementRef{DocumentID: e.DocumentID, WorkspaceID: e.WorkspaceID, ElementID: e.ID}
}

// ThumbnailVariant is one rendered size of an item thumbnail. Size has the
// form "WxH".
type ThumbnailVariant struct {
	Size      string `json:"size"`
	Href      string `json:"href"`
	MediaType string `json:"mediaType,omitempty"`
}

// ElementRef addresses one element of a document workspace.
type ElementRef struct {
	DocumentID  string
	WorkspaceID string
	ElementID   string
}

// ExportOptions are the optional STL tessellation parameters. Every field is
// passed through verbatim; an empty field is left out of the request.
type ExportOptions struct {
	Scale          string `json:"scale,omitempty" yaml:"scale" mapstructure:"scale"`
	Units          string `json:"units,omitempty" yaml:"units" mapstructure:"units"`
	AngleTolerance string `json:"angleTolerance,omitempty" yaml:"angle" mapstructure:"angle"`
	ChordTolerance string `json:"chordTolerance,omitempty" yaml:"chord" mapstructure:"chord"`
	MaxFacetWidth  string `json:"maxFacetWidth,omitempty" yaml:"max_facet" mapstructure:"max_facet"`
	MinFacetWidth  string `json:"minFacetWidth,omitempty" yaml:"min_facet" mapstructure:"min_facet"`
}

// DefaultUnits is the UI sentinel meaning "let the server choose".
const DefaultUnits = "Default"

// Merge fills empty fields of o from defaults.
func (o ExportOptions) Merge(defaults ExportOptions) ExportOptions {
	pick := func(v, d string) string {
		if v != "" {
			return v
		}
		return d
	}
	return ExportOptions{
		Scale:          pick(o.Scale, defaults.Scale),
		Units:          pick(o.Units, defaults.Units),
		AngleTolerance: pick(o.AngleTolerance, defaults.AngleTolerance),
		ChordTolerance: pick(o.ChordTolerance, defaults.ChordTolerance),
		MaxFacetWidth:  pick(o.MaxFacetWidth, defaults.MaxFacetWidth),
		MinFacetWidth:  pick(o.MinFacetWidth, defaults.MinFacetWidth),
	}
}
