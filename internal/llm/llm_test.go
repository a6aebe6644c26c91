package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scrapeforge/internal/config"
)

func TestParseJSONFieldsParsesWholeString(t *testing.T) {
	fields, err := parseJSONFields(`{"title":"hello","count":3}`)
	require.NoError(t, err)
	require.Equal(t, "hello", fields["title"])
}

func TestParseJSONFieldsExtractsEmbeddedObject(t *testing.T) {
	fields, err := parseJSONFields("Sure, here you go:\n```json\n{\"title\":\"hi\"}\n```\nhope that helps")
	require.NoError(t, err)
	require.Equal(t, "hi", fields["title"])
}

func TestParseJSONFieldsErrorsWithNoObject(t *testing.T) {
	_, err := parseJSONFields("no json here at all")
	require.Error(t, err)
}

func TestNewClientFromConfigBuildsOpenAIClient(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "openai",
		OpenAI:          config.OpenAIConfig{APIKey: "k", Model: "gpt-4"},
	}}
	client, prov, model, err := NewClientFromConfig(cfg, "", "")
	require.NoError(t, err)
	require.NotNil(t, client)
	require.Equal(t, ProviderOpenAI, prov)
	require.Equal(t, "gpt-4", model)
}

func TestNewClientFromConfigHonorsModelOverride(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "anthropic",
		Anthropic:       config.AnthropicConfig{APIKey: "k", Model: "claude-default"},
	}}
	_, prov, model, err := NewClientFromConfig(cfg, "", "claude-override")
	require.NoError(t, err)
	require.Equal(t, ProviderAnthropic, prov)
	require.Equal(t, "claude-override", model)
}

func TestNewClientFromConfigErrorsOnIncompleteProvider(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{DefaultProvider: "google"}}
	_, _, _, err := NewClientFromConfig(cfg, "", "")
	require.Error(t, err)
}

func TestNewClientFromConfigErrorsOnUnsupportedProvider(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{DefaultProvider: "cohere"}}
	_, _, _, err := NewClientFromConfig(cfg, "", "")
	require.Error(t, err)
}

func TestNewClientFromConfigHonorsProviderOverride(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "openai",
		OpenAI:          config.OpenAIConfig{APIKey: "k", Model: "gpt-4"},
		Google:          config.GoogleLLMConfig{APIKey: "gk", Model: "gemini-pro"},
	}}
	_, prov, model, err := NewClientFromConfig(cfg, "google", "")
	require.NoError(t, err)
	require.Equal(t, ProviderGoogle, prov)
	require.Equal(t, "gemini-pro", model)
}
