package onshape

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cadbridge/internal/errors"
	"cadbridge/internal/httpclient"
)

func jsonResponse(status int, body string) *httpclient.Response {
	return &httpclient.Response{
		StatusCode: status,
		Reason:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
	}
}

const twoDocuments = `{
  "items": [
    {
      "name": "Bracket",
      "id": "doc-1",
      "resourceType": "document",
      "isContainer": false,
      "modifiedAt": "2024-03-01T10:00:00Z",
      "modifiedBy": {"name": "Ada"},
      "defaultWorkspace": {"id": "ws-1"},
      "thumbnail": {"sizes": [
        {"size": "300x170", "href": "https://cad.example/thumb/doc-1/300x170"},
        {"size": "70x40", "href": "https://cad.example/thumb/doc-1/70x40"}
      ]}
    },
    {
      "name": "Hinge",
      "id": "doc-2",
      "resourceType": "document",
      "isContainer": false,
      "modifiedAt": "2024-02-01T10:00:00Z",
      "modifiedBy": {"name": "Grace"},
      "defaultWorkspace": {"id": "ws-2"},
      "thumbnail": {"sizes": [
        {"size": "70x40", "href": "https://cad.example/thumb/doc-2/70x40"},
        {"size": "300x170", "href": "https://cad.example/thumb/doc-2/300x170"}
      ]}
    }
  ]
}`

func TestDecodeDocuments(t *testing.T) {
	docs, err := DecodeDocuments(jsonResponse(200, twoDocuments)).Unwrap()
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, DocumentSummary{
		Name:           "Bracket",
		ID:             "doc-1",
		ResourceType:   "document",
		ModifiedAt:     "2024-03-01T10:00:00Z",
		ModifiedByName: "Ada",
		WorkspaceID:    "ws-1",
		ThumbnailRef:   "https://cad.example/thumb/doc-1/70x40",
	}, docs[0])
	assert.Equal(t, "doc-2", docs[1].ID)
	assert.Equal(t, "https://cad.example/thumb/doc-2/70x40", docs[1].ThumbnailRef)
}

func TestDecodeDocumentsWithoutThumbnail(t *testing.T) {
	docs, err := DecodeDocuments(jsonResponse(200, `{"items":[{"name":"Folder","id":"f-1","isContainer":true}]}`)).Unwrap()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Empty(t, docs[0].ThumbnailRef)
	assert.Empty(t, docs[0].WorkspaceID)
	assert.True(t, docs[0].IsContainer)
}

func TestDecodeDocumentsShapeMismatch(t *testing.T) {
	cases := map[string]string{
		"array body":     `[]`,
		"not json":       `<html>`,
		"missing id":     `{"items":[{"name":"x"}]}`,
		"items not list": `{"items":{}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := DecodeDocuments(jsonResponse(200, body)).UnwrapError()
			require.NoError(t, err)
			assert.Equal(t, DecodeFailureStatus, f.StatusCode)
			assert.Equal(t, apperrors.KindDecode, f.Kind())
		})
	}
}

func TestDecodeStatusFailureUsesReason(t *testing.T) {
	resp := jsonResponse(500, `{"message":"boom"}`)
	resp.Reason = "Server Exploded"
	f, err := DecodeDocuments(resp).UnwrapError()
	require.NoError(t, err)
	assert.Equal(t, 500, f.StatusCode)
	assert.Equal(t, "Server Exploded", f.Message)
	assert.Equal(t, apperrors.KindHTTP, f.Kind())
}

func TestElementDecoder(t *testing.T) {
	body := `[
	  {"name": "Part Studio 1", "id": "e-1", "elementType": "PARTSTUDIO",
	   "thumbnailInfo": {"sizes": [{"size": "300x170", "href": "big"}, {"size": "70x40", "href": "small"}]}},
	  {"name": "Assembly 1", "id": "e-2", "elementType": "ASSEMBLY"}
	]`
	elements, err := ElementDecoder("doc-1", "ws-1")(jsonResponse(200, body)).Unwrap()
	require.NoError(t, err)
	require.Len(t, elements, 2)

	assert.Equal(t, ElementSummary{
		Name: "Part Studio 1", ID: "e-1", DocumentID: "doc-1", WorkspaceID: "ws-1",
		Type: ElementTypePartStudio, ThumbnailRef: "small",
	}, elements[0])
	assert.True(t, elements[0].IsPartStudio())
	assert.False(t, elements[1].IsPartStudio())
	assert.Equal(t, ElementRef{DocumentID: "doc-1", WorkspaceID: "ws-1", ElementID: "e-2"}, elements[1].Ref())

	f, err := ElementDecoder("d", "w")(jsonResponse(200, `{"items":[]}`)).UnwrapError()
	require.NoError(t, err)
	assert.Equal(t, DecodeFailureStatus, f.StatusCode)
}

func TestDecodePartIDs(t *testing.T) {
	ids, err := DecodePartIDs(jsonResponse(200, `{"parts":[{"partId":"JHD"},{"partId":"JHH"}],"instances":[]}`)).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, []string{"JHD", "JHH"}, ids)

	f, err := DecodePartIDs(jsonResponse(200, `{"instances":[]}`)).UnwrapError()
	require.NoError(t, err)
	assert.Equal(t, apperrors.KindDecode, f.Kind())
}

func TestDecodeBinary(t *testing.T) {
	stl := []byte{0x73, 0x6f, 0x6c, 0x69, 0x64, 0x00, 0xff}
	got, err := DecodeBinary(&httpclient.Response{StatusCode: 200, Body: stl}).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, stl, got)

	f, err := DecodeBinary(&httpclient.Response{StatusCode: 307, Reason: "Temporary Redirect"}).UnwrapError()
	require.NoError(t, err)
	assert.Equal(t, 307, f.StatusCode)
}

func TestDecodeImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	got, err := DecodeImage(&httpclient.Response{StatusCode: 200, Body: png}).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), got)

	f, err := DecodeImage(&httpclient.Response{StatusCode: 204}).UnwrapError()
	require.NoError(t, err)
	assert.Equal(t, 401, f.StatusCode)
	assert.Equal(t, "Could not load image", f.Message)
	assert.True(t, apperrors.IsAuthRequired(f))
}
