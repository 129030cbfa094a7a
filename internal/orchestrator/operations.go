package orchestrator

import (
	"context"
	"net/http"

	"cadbridge/internal/auth"
	"cadbridge/internal/onshape"
)

// Operation names used for logs, metrics and spans.
const (
	OpAuthenticate  = "authenticate"
	OpCheckSession  = "check_session"
	OpListDocuments = "list_documents"
	OpListElements  = "list_elements"
	OpListParts     = "list_parts"
	OpExportPart    = "export_partstudio_stl"
	OpExportAsm     = "export_assembly_stl"
	OpFetchImage    = "fetch_image"
)

// Authenticate logs in and delivers the issued cookies. The request carries no
// session cookie.
func (o *Orchestrator) Authenticate(ctx context.Context, username, password string, onSuccess func(onshape.AuthToken), onFailure FailureFunc) {
	issue[onshape.AuthToken](ctx, o, OpAuthenticate, false,
		func(ctx context.Context) (*http.Request, error) {
			return o.auth.LoginRequest(ctx, username, password)
		},
		auth.DecodeLogin, onSuccess, onFailure)
}

// CheckSession reports whether the current token still has a session. A
// missing session fails with status 401 and an AuthRequiredError cause.
func (o *Orchestrator) CheckSession(ctx context.Context, onAuthenticated func(), onFailure FailureFunc) {
	issue[struct{}](ctx, o, OpCheckSession, true,
		o.auth.SessionRequest,
		auth.DecodeSession,
		func(struct{}) {
			if onAuthenticated != nil {
				onAuthenticated()
			}
		},
		onFailure)
}

// ListDocuments lists the 20 most recently modified documents matching query.
func (o *Orchestrator) ListDocuments(ctx context.Context, query string, onSuccess func([]onshape.DocumentSummary), onFailure FailureFunc) {
	issue[[]onshape.DocumentSummary](ctx, o, OpListDocuments, true,
		getJSON(o.endpoints.Documents(query)),
		onshape.DecodeDocuments, onSuccess, onFailure)
}

// ListElements lists the elements of one document workspace.
func (o *Orchestrator) ListElements(ctx context.Context, documentID, workspaceID string, onSuccess func([]onshape.ElementSummary), onFailure FailureFunc) {
	issue[[]onshape.ElementSummary](ctx, o, OpListElements, true,
		getJSON(o.endpoints.Elements(documentID, workspaceID)),
		onshape.ElementDecoder(documentID, workspaceID), onSuccess, onFailure)
}

// ListPartIDs lists the part ids of an assembly.
func (o *Orchestrator) ListPartIDs(ctx context.Context, ref onshape.ElementRef, onSuccess func([]string), onFailure FailureFunc) {
	issue[[]string](ctx, o, OpListParts, true,
		getJSON(o.endpoints.Parts(ref)),
		onshape.DecodePartIDs, onSuccess, onFailure)
}

// ExportPartStudioSTL downloads a part studio as STL bytes.
func (o *Orchestrator) ExportPartStudioSTL(ctx context.Context, ref onshape.ElementRef, opts onshape.ExportOptions, onSuccess func([]byte), onFailure FailureFunc) {
	issue[[]byte](ctx, o, OpExportPart, true,
		getJSON(o.endpoints.PartStudioSTL(ref, opts)),
		onshape.DecodeBinary, onSuccess, onFailure)
}

// ExportAssemblySTL downloads an assembly as binary STL. The API answers with
// a redirect to the generated file, which is chased here.
func (o *Orchestrator) ExportAssemblySTL(ctx context.Context, ref onshape.ElementRef, opts onshape.ExportOptions, onSuccess func([]byte), onFailure FailureFunc) {
	issue[[]byte](ctx, o, OpExportAsm, true,
		get(o.endpoints.AssemblySTL(ref, opts)),
		onshape.DecodeBinary, onSuccess, onFailure)
}

// ExportElementSTL picks the export matching elementType: part studios use the
// part studio endpoint, everything else the assembly export.
func (o *Orchestrator) ExportElementSTL(ctx context.Context, ref onshape.ElementRef, elementType string, opts onshape.ExportOptions, onSuccess func([]byte), onFailure FailureFunc) {
	if (onshape.ElementSummary{Type: elementType}).IsPartStudio() {
		o.ExportPartStudioSTL(ctx, ref, opts, onSuccess, onFailure)
		return
	}
	o.ExportAssemblySTL(ctx, ref, opts, onSuccess, onFailure)
}

// FetchImage downloads href and delivers it base64-encoded.
func (o *Orchestrator) FetchImage(ctx context.Context, href string, onSuccess func(string), onFailure FailureFunc) {
	issue[string](ctx, o, OpFetchImage, true,
		get(href),
		onshape.DecodeImage, onSuccess, onFailure)
}

func getJSON(target string) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return auth.JSONGet(ctx, target)
	}
}

func get(target string) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}
}
