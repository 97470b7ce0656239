package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"claude-code-proxy/internal/llm"
)

// BuildExactCacheKey builds an ExactCacheKey from the upstream request the
// proxy is about to send. Model names contain ':' (":free" suffixes), which
// is the key separator, so it is replaced with '_'.
func BuildExactCacheKey(req *llm.ChatRequest, scope, versionID string) (ExactCacheKey, error) {
	modelID := strings.ReplaceAll(strings.TrimSpace(req.Model), ":", "_")

	// stream flag is irrelevant to the reply content
	normalized := *req
	normalized.Stream = false

	body, err := json.Marshal(normalized)
	if err != nil {
		return ExactCacheKey{}, err
	}

	sum := sha256.Sum256(body)

	return ExactCacheKey{
		Scope:     sanitize(scope),
		ModelID:   modelID,
		VersionID: sanitize(versionID),
		Hash:      hex.EncodeToString(sum[:]),
	}, nil
}

func sanitize(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ":", "_")
}
