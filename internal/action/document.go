package action

import (
	"context"
	"fmt"

	"github.com/licensahq/stageact/internal/collab"
	"github.com/licensahq/stageact/model"
)

// DocumentHandler generates documents through the document collaborator.
type DocumentHandler struct {
	documents collab.Documents
}

// NewDocumentHandler builds the create_document handler.
func NewDocumentHandler(documents collab.Documents) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

func (h *DocumentHandler) Type() Type { return TypeCreateDocument }

// Execute resolves the field mapping against the data context and asks
// the document service to generate the document.
func (h *DocumentHandler) Execute(ctx context.Context, cfg *Config, dctx model.DataContext, actor model.Actor) (model.ActionResult, error) {
	dc := cfg.Document
	if dc == nil {
		return nil, model.NewConfigurationError("create_document action missing parsed config")
	}

	fields := make(map[string]string, len(dc.Fields))
	for key, expr := range dc.Fields {
		v, ok := expr.Resolve(dctx, actor)
		if !ok {
			return nil, model.NewActionFailedError(TypeCreateDocument.String(),
				fmt.Sprintf("document field %q references absent data field %q", key, expr.Field))
		}
		fields[key] = v
	}

	appUUID, _ := dctx.String("entity_uuid")
	receipt, err := h.documents.CreateDocument(ctx, collab.DocumentRequest{
		ApplicationUUID: appUUID,
		DocumentType:    dc.DocumentType,
		TemplateName:    dc.TemplateName,
		Fields:          fields,
		RequestedBy:     actor.ID,
	})
	if err != nil {
		return nil, err
	}

	return model.ActionResult{
		"document_id":   receipt.DocumentID,
		"document_type": dc.DocumentType,
		"download_url":  receipt.DownloadURL,
	}, nil
}
