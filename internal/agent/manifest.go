package agent

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ManifestEntry is one tool call recorded in a tools-v2 marker: a short
// description, whether it succeeded, and an optional output snippet.
type ManifestEntry struct {
	Description string `json:"d"`
	Success     bool   `json:"s"`
	Output      string `json:"o,omitempty"`
}

const manifestMarkerPrefix = "<!-- tools-v2: "
const manifestMarkerSuffix = " -->"

// legacyMarkerPattern matches the v1 format (`<!-- tools: desc1 | desc2 -->`),
// accepted on read but never written.
var legacyMarkerPattern = regexp.MustCompile(`<!-- tools: (.*?) -->`)

// EncodeManifestMarker renders one iteration's tool calls into an embedded
// tools-v2 HTML-comment marker.
func EncodeManifestMarker(entries []ManifestEntry) (string, error) {
	payload, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return manifestMarkerPrefix + string(payload) + manifestMarkerSuffix, nil
}

// ManifestBlock is one parsed unit of an assistant message's content: plain
// text, or a tools-v2 (or legacy v1) manifest marker.
type ManifestBlock struct {
	Text    string
	Entries []ManifestEntry // nil for a plain-text block
}

var markerSplit = regexp.MustCompile(`<!-- tools(?:-v2)?: .*? -->`)

// ParseContent splits a persisted assistant message's content into an
// ordered sequence of text and manifest blocks, in the order they appear.
func ParseContent(content string) []ManifestBlock {
	var blocks []ManifestBlock
	matches := markerSplit.FindAllStringIndex(content, -1)
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > last {
			if text := content[last:start]; strings.TrimSpace(text) != "" || text != "" {
				blocks = append(blocks, ManifestBlock{Text: text})
			}
		}
		marker := content[start:end]
		entries := decodeMarker(marker)
		blocks = append(blocks, ManifestBlock{Entries: entries})
		last = end
	}
	if last < len(content) {
		blocks = append(blocks, ManifestBlock{Text: content[last:]})
	}
	return blocks
}

func decodeMarker(marker string) []ManifestEntry {
	if strings.HasPrefix(marker, manifestMarkerPrefix) {
		raw := strings.TrimSuffix(strings.TrimPrefix(marker, manifestMarkerPrefix), manifestMarkerSuffix)
		var entries []ManifestEntry
		if err := json.Unmarshal([]byte(raw), &entries); err == nil {
			return entries
		}
		return nil
	}
	// Legacy v1: `<!-- tools: desc1 | desc2 -->` — description-only, no
	// success flag or output; both default to a permissive read.
	if legacy := legacyMarkerPattern.FindStringSubmatch(marker); legacy != nil {
		parts := strings.Split(legacy[1], " | ")
		entries := make([]ManifestEntry, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			entries = append(entries, ManifestEntry{Description: p, Success: true})
		}
		return entries
	}
	return nil
}

// RehydrateBlocks expands parsed manifest blocks back into the ToolUse /
// ToolResult content-block pairs a provider request expects, preserving
// order. Synthetic ToolUse inputs are empty objects: manifests carry
// descriptions, not raw inputs.
func RehydrateBlocks(blocks []ManifestBlock) []ContentBlock {
	var out []ContentBlock
	for _, b := range blocks {
		if b.Entries == nil {
			if b.Text != "" {
				out = append(out, ContentBlock{Type: ContentText, Text: b.Text})
			}
			continue
		}
		for i, e := range b.Entries {
			id := "manifest-" + strconv.Itoa(i)
			out = append(out, ContentBlock{
				Type:      ContentToolUse,
				ToolUseID: id,
				ToolName:  e.Description,
				ToolInput: json.RawMessage(`{}`),
			})
			out = append(out, ContentBlock{
				Type:        ContentToolResult,
				ToolUseID:   id,
				ToolContent: e.Output,
				IsError:     !e.Success,
			})
		}
	}
	return out
}
