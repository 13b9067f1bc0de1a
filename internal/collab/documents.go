package collab

import (
	"context"
	"fmt"
	"net/http"

	"github.com/licensahq/stageact/internal/config"
	"github.com/licensahq/stageact/model"
)

// DocumentRequest asks the document service to generate a document from
// a named template.
type DocumentRequest struct {
	ApplicationUUID string            `json:"application_uuid"`
	DocumentType    string            `json:"document_type"`
	TemplateName    string            `json:"template_name"`
	Fields          map[string]string `json:"fields,omitempty"`
	RequestedBy     string            `json:"requested_by"`
}

// DocumentReceipt is the document service's acknowledgement.
type DocumentReceipt struct {
	DocumentID  string `json:"document_id"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Documents generates documents.
type Documents interface {
	CreateDocument(ctx context.Context, req DocumentRequest) (DocumentReceipt, error)
}

// HTTPDocuments talks to the document service over HTTP.
type HTTPDocuments struct {
	client *Client
}

// NewHTTPDocuments builds a documents client from a service configuration
// section.
func NewHTTPDocuments(cfg config.ServiceConfig) *HTTPDocuments {
	return &HTTPDocuments{client: NewClient(cfg)}
}

// CreateDocument generates a document. A non-2xx reply fails the call.
func (d *HTTPDocuments) CreateDocument(ctx context.Context, req DocumentRequest) (DocumentReceipt, error) {
	resp, err := d.client.DoJSON(ctx, http.MethodPost, "/v1/documents", nil, req)
	if err != nil {
		return DocumentReceipt{}, err
	}
	if resp.StatusCode >= 300 {
		return DocumentReceipt{}, model.NewActionFailedError("create_document",
			fmt.Sprintf("document service returned status %d", resp.StatusCode))
	}

	var receipt DocumentReceipt
	if body, ok := resp.Body.(map[string]any); ok {
		if v, ok := body["document_id"].(string); ok {
			receipt.DocumentID = v
		}
		if v, ok := body["download_url"].(string); ok {
			receipt.DownloadURL = v
		}
	}
	if receipt.DocumentID == "" {
		return DocumentReceipt{}, model.NewActionFailedError("create_document",
			"document service reply did not include a document_id")
	}
	return receipt, nil
}
