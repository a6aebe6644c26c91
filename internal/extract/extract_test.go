package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scrapeforge/internal/llm"
)

type fakeLLMClient struct {
	result llm.ExtractResult
	err    error
	lastReq llm.ExtractRequest
}

func (f *fakeLLMClient) ExtractFields(_ context.Context, req llm.ExtractRequest) (llm.ExtractResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func newTestService(client llm.Client, err error) *Service {
	return NewService(func() (llm.Client, llm.Provider, string, error) {
		if err != nil {
			return nil, "", "", err
		}
		return client, llm.ProviderOpenAI, "test-model", nil
	})
}

func TestExtractReturnsFields(t *testing.T) {
	client := &fakeLLMClient{result: llm.ExtractResult{Fields: map[string]any{"title": "Hello"}}}
	svc := newTestService(client, nil)

	schema := map[string]any{"properties": map[string]any{"title": map[string]any{"type": "string"}}}
	fields, err := svc.Extract(context.Background(), "https://example.com", "page text", schema, "extract the title", time.Second)
	require.NoError(t, err)
	require.Equal(t, "Hello", fields["title"])
	require.Len(t, client.lastReq.Fields, 1)
	require.Equal(t, "title", client.lastReq.Fields[0].Name)
}

func TestExtractWrapsClientFactoryError(t *testing.T) {
	svc := newTestService(nil, errors.New("no provider configured"))
	_, err := svc.Extract(context.Background(), "https://example.com", "text", nil, "", time.Second)
	require.Error(t, err)
}

func TestExtractWrapsLLMFailure(t *testing.T) {
	client := &fakeLLMClient{err: errors.New("upstream down")}
	svc := newTestService(client, nil)
	_, err := svc.Extract(context.Background(), "https://example.com", "text", nil, "", time.Second)
	require.Error(t, err)
}

func TestSummarizeExtractsSummaryField(t *testing.T) {
	client := &fakeLLMClient{result: llm.ExtractResult{Fields: map[string]any{"summary": "a short summary"}}}
	svc := newTestService(client, nil)

	summary, err := svc.Summarize(context.Background(), "https://example.com", "page text", time.Second)
	require.NoError(t, err)
	require.Equal(t, "a short summary", summary)
}

func TestBrandingPrunesNilImageFields(t *testing.T) {
	client := &fakeLLMClient{result: llm.ExtractResult{Fields: map[string]any{
		"siteName": "Example Co",
		"images": map[string]any{
			"logo":    "https://example.com/logo.png",
			"favicon": nil,
		},
	}}}
	svc := newTestService(client, nil)

	branding, err := svc.Branding(context.Background(), "https://example.com", "page text", "", time.Second)
	require.NoError(t, err)
	require.Equal(t, "Example Co", branding["siteName"])

	images, ok := branding["images"].(map[string]any)
	require.True(t, ok)
	_, hasFavicon := images["favicon"]
	require.False(t, hasFavicon, "nil favicon must be pruned")
	require.Equal(t, "https://example.com/logo.png", images["logo"])
}

func TestFieldsFromSchemaHandlesNilSchema(t *testing.T) {
	require.Nil(t, fieldsFromSchema(nil))
}
