// Package extract adapts the opaque extract(text, schema) -> object
// collaborator named in spec.md §1/§4.C step 10 onto the LLM client.
package extract

import (
	"context"
	"time"

	"scrapeforge/internal/apperr"
	"scrapeforge/internal/llm"
	"scrapeforge/internal/metrics"
	"scrapeforge/internal/scrapeutil"
)

// Service coordinates LLM-based structured extraction. The scrape/crawl
// side of the pipeline (fetch, transform) is entirely the caller's
// responsibility; Service only turns text + a JSON-schema-shaped map into
// a filled-in object, or a non-fatal error per spec.md §7
// ("ExtractFailed is non-fatal").
type Service struct {
	clientFactory func() (llm.Client, llm.Provider, string, error)
}

// NewService builds a Service from a factory that resolves the configured
// LLM client (provider/model come from config, with per-request overrides).
func NewService(factory func() (llm.Client, llm.Provider, string, error)) *Service {
	return &Service{clientFactory: factory}
}

// Extract runs structured extraction over text using a JSON-schema-shaped
// `schema` map (a "properties" object mapping field name -> {type,
// description}), returning the extracted object or a wrapped ExtractFailed
// error.
func (s *Service) Extract(ctx context.Context, sourceURL, text string, schema map[string]any, prompt string, timeout time.Duration) (map[string]any, error) {
	client, provider, model, err := s.clientFactory()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeExtractFailed, "no llm client configured", err)
	}

	fields := fieldsFromSchema(schema)

	res, err := client.ExtractFields(ctx, llm.ExtractRequest{
		URL:      sourceURL,
		Markdown: text,
		Fields:   fields,
		Prompt:   prompt,
		Timeout:  timeout,
	})
	if err != nil {
		metrics.RecordLLMExtract(string(provider), model, false)
		return nil, apperr.Wrap(apperr.CodeExtractFailed, "extract failed", err)
	}

	metrics.RecordLLMExtract(string(provider), model, true)
	return res.Fields, nil
}

// summarySchema asks the LLM for a single free-text field; Extract's
// schema-to-fields machinery is reused rather than a bespoke code path.
var summarySchema = map[string]any{
	"properties": map[string]any{
		"summary": map[string]any{"type": "string", "description": "a concise summary of the page"},
	},
}

// brandingSchema mirrors the teacher's branding profile shape: a site name
// plus an images sub-object the caller may partially fill.
var brandingSchema = map[string]any{
	"properties": map[string]any{
		"siteName": map[string]any{"type": "string", "description": "the site or brand name"},
		"images": map[string]any{"type": "object", "description": "logo/favicon/ogImage URLs, any of which may be absent"},
	},
}

// Summarize produces Document.Summary via the same opaque LLM collaborator
// as Extract, using a fixed one-field schema.
func (s *Service) Summarize(ctx context.Context, sourceURL, text string, timeout time.Duration) (string, error) {
	fields, err := s.Extract(ctx, sourceURL, text, summarySchema, "Summarize this page in 2-3 sentences.", timeout)
	if err != nil {
		return "", err
	}
	return scrapeutil.ToString(fields["summary"]), nil
}

// Branding produces Document.Branding: a best-effort profile of the page's
// site name and image assets, with nil image fields pruned.
func (s *Service) Branding(ctx context.Context, sourceURL, text, prompt string, timeout time.Duration) (map[string]any, error) {
	if prompt == "" {
		prompt = "Identify the site's branding: name and any logo/favicon/social image URLs visible in the content."
	}
	fields, err := s.Extract(ctx, sourceURL, text, brandingSchema, prompt, timeout)
	if err != nil {
		return nil, err
	}
	scrapeutil.NormalizeBrandingImages(fields)
	return fields, nil
}

// fieldsFromSchema converts a JSON-schema-shaped map's top-level
// "properties" into the llm package's flatter FieldSpec list, which is all
// the opaque providers actually consume.
func fieldsFromSchema(schema map[string]any) []llm.FieldSpec {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		return nil
	}

	fields := make([]llm.FieldSpec, 0, len(props))
	for name, raw := range props {
		spec := llm.FieldSpec{Name: name}
		if m, ok := raw.(map[string]any); ok {
			spec.Type = scrapeutil.ToString(m["type"])
			spec.Description = scrapeutil.ToString(m["description"])
		}
		fields = append(fields, spec)
	}
	return fields
}
