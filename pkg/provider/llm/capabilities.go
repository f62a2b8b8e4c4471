package llm

import (
	"errors"
	"strings"
)

var (
	// ErrTruncated means the model stopped at its output limit. A clinical
	// note cut off mid-section is not returned as a result.
	ErrTruncated = errors.New("llm: response truncated at the output token limit")

	// ErrRefused means the model declined or its output was filtered.
	ErrRefused = errors.New("llm: model refused or filtered the response")
)

// DefaultCapabilities apply to models not found in the capability table.
var DefaultCapabilities = ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

// capabilityTable is matched top to bottom against the lowercased model
// name; more specific prefixes come first.
var capabilityTable = []struct {
	match string
	caps  ModelCapabilities
}{
	{"gpt-4.1", ModelCapabilities{1_047_576, 32_768}},
	{"gpt-4o", ModelCapabilities{128_000, 16_384}},
	{"gpt-4-turbo", ModelCapabilities{128_000, 4_096}},
	{"gpt-4", ModelCapabilities{8_192, 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{16_385, 4_096}},
	{"o1", ModelCapabilities{200_000, 100_000}},
	{"o3", ModelCapabilities{200_000, 100_000}},
	{"o4", ModelCapabilities{200_000, 100_000}},
	{"claude", ModelCapabilities{200_000, 8_192}},
	{"gemini-2.5", ModelCapabilities{1_048_576, 65_536}},
	{"gemini-1.5-pro", ModelCapabilities{2_097_152, 8_192}},
	{"gemini", ModelCapabilities{1_048_576, 8_192}},
	{"deepseek", ModelCapabilities{64_000, 8_192}},
	{"mistral", ModelCapabilities{32_768, 4_096}},
	{"llama", ModelCapabilities{32_768, 4_096}},
}

// LookupCapabilities returns the known limits for model, matched by name
// prefix, or [DefaultCapabilities].
func LookupCapabilities(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	// Vendor-qualified names such as "models/gemini-2.5-flash" or
	// "meta/llama3" match on the last path element.
	if i := strings.LastIndexByte(lower, '/'); i >= 0 {
		lower = lower[i+1:]
	}
	for _, row := range capabilityTable {
		if strings.HasPrefix(lower, row.match) {
			return row.caps
		}
	}
	return DefaultCapabilities
}

// CheckFinish turns a finish reason that means the content is unusable
// into [ErrTruncated] or [ErrRefused]. The reason strings cover the OpenAI,
// Anthropic and Gemini vocabularies.
func CheckFinish(reason string) error {
	switch strings.ToLower(reason) {
	case "length", "max_tokens":
		return ErrTruncated
	case "content_filter", "refusal", "safety", "recitation":
		return ErrRefused
	}
	return nil
}
