package onshape

import (
	"encoding/base64"
	"fmt"
	"net/http"

	apperrors "cadbridge/internal/errors"
	"cadbridge/internal/httpclient"
	"cadbridge/internal/result"
	jsonx "cadbridge/internal/shared/json"
)

// DecodeFailureStatus is the synthetic status reported for bodies that do not
// match the expected shape.
const DecodeFailureStatus = http.StatusServiceUnavailable

// Decoder maps one raw response onto a typed result. Decoders are pure.
type Decoder[T any] func(resp *httpclient.Response) result.Result[T]

// StatusFailure reports a non-success status with the server reason phrase.
func StatusFailure[T any](resp *httpclient.Response) result.Result[T] {
	return result.FailWith[T](resp.StatusCode, resp.Reason, &apperrors.HTTPError{
		StatusCode: resp.StatusCode,
		Reason:     resp.Reason,
	})
}

// DecodeFailure reports a shape mismatch for endpoint.
func DecodeFailure[T any](endpoint string, err error) result.Result[T] {
	decodeErr := &apperrors.DecodeError{Endpoint: endpoint, Err: err}
	return result.FailWith[T](DecodeFailureStatus, decodeErr.Error(), decodeErr)
}

type thumbnailPayload struct {
	Sizes []ThumbnailVariant `json:"sizes"`
}

// ref picks the smallest variant. Items without a usable thumbnail get an
// empty reference.
func (t *thumbnailPayload) ref() string {
	if t == nil {
		return ""
	}
	href, err := SelectSmallest(t.Sizes)
	if err != nil {
		return ""
	}
	return href
}

type documentPayload struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	ResourceType string `json:"resourceType"`
	IsContainer  bool   `json:"isContainer"`
	ModifiedAt   string `json:"modifiedAt"`
	ModifiedBy   *struct {
		Name string `json:"name"`
	} `json:"modifiedBy"`
	DefaultWorkspace *struct {
		ID string `json:"id"`
	} `json:"defaultWorkspace"`
	Thumbnail *thumbnailPayload `json:"thumbnail"`
}

type documentListPayload struct {
	Items []documentPayload `json:"items"`
}

// DecodeDocuments decodes the document list, preserving server order.
func DecodeDocuments(resp *httpclient.Response) result.Result[[]DocumentSummary] {
	if resp.StatusCode != http.StatusOK {
		return StatusFailure[[]DocumentSummary](resp)
	}
	var payload documentListPayload
	if err := decodeValidated(schemaDocuments, resp.Body, &payload); err != nil {
		return DecodeFailure[[]DocumentSummary]("documents", err)
	}

	docs := make([]DocumentSummary, 0, len(payload.Items))
	for _, item := range payload.Items {
		doc := DocumentSummary{
			Name:         item.Name,
			ID:           item.ID,
			ResourceType: item.ResourceType,
			IsContainer:  item.IsContainer,
			ModifiedAt:   item.ModifiedAt,
			ThumbnailRef: item.Thumbnail.ref(),
		}
		if item.ModifiedBy != nil {
			doc.ModifiedByName = item.ModifiedBy.Name
		}
		if item.DefaultWorkspace != nil {
			doc.WorkspaceID = item.DefaultWorkspace.ID
		}
		docs = append(docs, doc)
	}
	return result.Success(docs)
}

type elementPayload struct {
	Name          string            `json:"name"`
	ID            string            `json:"id"`
	ElementType   string            `json:"elementType"`
	ThumbnailInfo *thumbnailPayload `json:"thumbnailInfo"`
}

// ElementDecoder decodes the element list of one workspace. The records carry
// the document and workspace ids the list was requested for.
func ElementDecoder(documentID, workspaceID string) Decoder[[]ElementSummary] {
	return func(resp *httpclient.Response) result.Result[[]ElementSummary] {
		if resp.StatusCode != http.StatusOK {
			return StatusFailure[[]ElementSummary](resp)
		}
		var payload []elementPayload
		if err := decodeValidated(schemaElements, resp.Body, &payload); err != nil {
			return DecodeFailure[[]ElementSummary]("elements", err)
		}

		elements := make([]ElementSummary, 0, len(payload))
		for _, item := range payload {
			elements = append(elements, ElementSummary{
				Name:         item.Name,
				ID:           item.ID,
				DocumentID:   documentID,
				WorkspaceID:  workspaceID,
				Type:         item.ElementType,
				ThumbnailRef: item.ThumbnailInfo.ref(),
			})
		}
		return result.Success(elements)
	}
}

type partsPayload struct {
	Parts []struct {
		PartID string `json:"partId"`
	} `json:"parts"`
}

// DecodePartIDs extracts the part ids of an assembly definition.
func DecodePartIDs(resp *httpclient.Response) result.Result[[]string] {
	if resp.StatusCode != http.StatusOK {
		return StatusFailure[[]string](resp)
	}
	var payload partsPayload
	if err := decodeValidated(schemaParts, resp.Body, &payload); err != nil {
		return DecodeFailure[[]string]("parts", err)
	}
	ids := make([]string, 0, len(payload.Parts))
	for _, part := range payload.Parts {
		ids = append(ids, part.PartID)
	}
	return result.Success(ids)
}

// DecodeBinary returns the raw body of a 200 response.
func DecodeBinary(resp *httpclient.Response) result.Result[[]byte] {
	if resp.StatusCode != http.StatusOK {
		return StatusFailure[[]byte](resp)
	}
	return result.Success(resp.Body)
}

// DecodeImage returns the body of a 200 response as standard base64. A 204
// means the image is not available to this session.
func DecodeImage(resp *httpclient.Response) result.Result[string] {
	switch resp.StatusCode {
	case http.StatusOK:
		return result.Success(base64.StdEncoding.EncodeToString(resp.Body))
	case http.StatusNoContent:
		return result.FailWith[string](http.StatusUnauthorized, "Could not load image",
			&apperrors.AuthRequiredError{Message: "Could not load image"})
	default:
		return StatusFailure[string](resp)
	}
}

func decodeValidated(schema string, body []byte, out any) error {
	var generic any
	if err := jsonx.Unmarshal(body, &generic); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := validateShape(schema, generic); err != nil {
		return err
	}
	if err := jsonx.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unexpected shape: %w", err)
	}
	return nil
}
