package router

import (
	"context"
	"encoding/json"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/state"
)

// settingsDoc is the optional per-document or per-project settings blob.
// Pointer fields distinguish "absent, inherit" from an explicit value.
type settingsDoc struct {
	Language       *string           `json:"language"`
	UseBDA         *bool             `json:"use_bda"`
	UseOCR         *bool             `json:"use_ocr"`
	UseTranscribe  *bool             `json:"use_transcribe"`
	OCRModel       *string           `json:"ocr_model"`
	OCROptions     map[string]string `json:"ocr_options"`
	DocumentPrompt *string           `json:"document_prompt"`
}

// Resolver resolves processing settings as document value, then project
// value, then hard default. Settings blobs live next to the uploads:
// projects/{p}/settings.json and projects/{p}/documents/{d}/settings.json.
// A missing blob simply means "inherit".
type Resolver struct {
	store    objstore.Store
	defaults config.DocumentDefaults
}

// NewResolver creates a Resolver over the object store.
func NewResolver(store objstore.Store, defaults config.DocumentDefaults) *Resolver {
	return &Resolver{store: store, defaults: defaults}
}

// Resolve returns the effective settings for one document.
func (r *Resolver) Resolve(ctx context.Context, bucket, projectID, documentID string) (state.ResolvedSettings, error) {
	resolved := state.ResolvedSettings{
		Language:       r.defaults.Language,
		UseBDA:         r.defaults.UseBDA,
		UseOCR:         r.defaults.UseOCR,
		UseTranscribe:  r.defaults.UseTranscribe,
		OCRModel:       r.defaults.OCRModel,
		OCROptions:     r.defaults.OCROptions,
		DocumentPrompt: r.defaults.DocumentPrompt,
	}

	if projectID != "" {
		projectURI := objstore.URI{Bucket: bucket, Key: "projects/" + projectID + "/settings.json"}
		r.apply(ctx, projectURI, &resolved)

		docURI := objstore.DocumentPrefix(bucket, projectID, documentID).Join("settings.json")
		r.apply(ctx, docURI, &resolved)
	}
	return resolved, nil
}

// apply overlays one settings blob when present and parseable.
func (r *Resolver) apply(ctx context.Context, uri objstore.URI, resolved *state.ResolvedSettings) {
	data, err := r.store.GetBytes(ctx, uri)
	if err != nil {
		return
	}
	var doc settingsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return
	}

	if doc.Language != nil {
		resolved.Language = *doc.Language
	}
	if doc.UseBDA != nil {
		resolved.UseBDA = *doc.UseBDA
	}
	if doc.UseOCR != nil {
		resolved.UseOCR = *doc.UseOCR
	}
	if doc.UseTranscribe != nil {
		resolved.UseTranscribe = *doc.UseTranscribe
	}
	if doc.OCRModel != nil {
		resolved.OCRModel = *doc.OCRModel
	}
	if doc.OCROptions != nil {
		resolved.OCROptions = doc.OCROptions
	}
	if doc.DocumentPrompt != nil {
		resolved.DocumentPrompt = *doc.DocumentPrompt
	}
}
