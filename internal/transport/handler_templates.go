package transport

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/licensahq/stageact/internal/template"
	"github.com/licensahq/stageact/model"
)

// templateSummary is the list view of one loaded template.
type templateSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	Stages      []string `json:"stages"`
}

func handleTemplateList(registry *template.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defs := registry.All()
		summaries := make([]templateSummary, 0, len(defs))
		for _, def := range defs {
			stages := make([]string, 0, len(def.Stages))
			for _, stage := range def.Stages {
				stages = append(stages, stage.Name)
			}
			summaries = append(summaries, templateSummary{
				Name:        def.Name,
				Description: def.Description,
				Kind:        def.Kind,
				Stages:      stages,
			})
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"templates": summaries,
			"checksum":  registry.Checksum(),
		})
	}
}

func handleTemplateGet(registry *template.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "templateName")
		def, ok := registry.Get(name)
		if !ok {
			WriteError(w, r, model.NewNotFoundError(fmt.Sprintf("template %q not found", name)))
			return
		}
		WriteJSON(w, http.StatusOK, def)
	}
}
