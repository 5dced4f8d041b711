package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// NormalizePrompt canonicalizes prompt text before hashing: leading/trailing
// whitespace is trimmed, internal whitespace runs collapse to single spaces,
// and the text is case-folded. Functionally identical requests therefore
// collide on exactly one fingerprint.
func NormalizePrompt(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Fingerprint computes the canonical SHA-256 key for a completion request.
// Metadata fields are serialized in a fixed order, so the key is a pure
// function of the normalized inputs.
func Fingerprint(prompt, systemPrompt string, meta Metadata) string {
	var sb strings.Builder

	sb.WriteString("prompt:")
	sb.WriteString(NormalizePrompt(prompt))
	sb.WriteString("|system:")
	sb.WriteString(NormalizePrompt(systemPrompt))

	fmt.Fprintf(&sb, "|type:%s", meta.RequestType)
	fmt.Fprintf(&sb, "|contract:%s", strings.ToLower(meta.ContractType))
	fmt.Fprintf(&sb, "|lang:%s", strings.ToLower(meta.Language))
	fmt.Fprintf(&sb, "|jurisdiction:%s", strings.ToLower(meta.Jurisdiction))
	fmt.Fprintf(&sb, "|version:%s", meta.Version)
	fmt.Fprintf(&sb, "|user:%s", meta.UserID)

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}

// domainKeywords maps prompt keywords to classification tags. The scan is a
// lightweight heuristic over the normalized prompt; Korean terms cover the
// primary user base.
var domainKeywords = map[string]string{
	"risk":       "risk-analysis",
	"위험":         "risk-analysis",
	"리스크":        "risk-analysis",
	"compliance": "compliance",
	"컴플라이언스":     "compliance",
	"규정":         "compliance",
	"contract":   "contract-analysis",
	"계약":         "contract-analysis",
	"strategic":  "strategic-report",
	"전략":         "strategic-report",
	"privacy":    "privacy",
	"개인정보":       "privacy",
}

// DeriveTags builds the classification tag set for an entry from its
// metadata plus a keyword scan of the normalized prompt.
func DeriveTags(prompt string, meta Metadata) []string {
	seen := make(map[string]struct{})
	tags := make([]string, 0, 8)

	add := func(tag string) {
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	add(string(meta.RequestType))
	if meta.ContractType != "" {
		add("contract:" + strings.ToLower(meta.ContractType))
	}
	if meta.Language != "" {
		add("lang:" + strings.ToLower(meta.Language))
	}
	if meta.Jurisdiction != "" {
		add("jurisdiction:" + strings.ToLower(meta.Jurisdiction))
	}
	if meta.UserID != "" {
		add("user:" + meta.UserID)
	}
	for _, t := range meta.Tags {
		add(strings.ToLower(t))
	}

	normalized := NormalizePrompt(prompt)
	for keyword, tag := range domainKeywords {
		if strings.Contains(normalized, keyword) {
			add(tag)
		}
	}

	return tags
}
