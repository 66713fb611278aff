// Package importer turns Markdown note collections (Obsidian vaults, plain
// note folders) into knowledge-graph entities and relations: each note
// becomes an entity, each [[wiki-link]] between notes becomes a relation.
package importer

import (
	"regexp"
	"strings"
)

// wikilinkRe matches [[target]] and [[target|alias]] patterns.
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]|]+?)(?:\|([^\[\]]+?))?\]\]`)

// WikiLink is a parsed [[wiki-link]] reference to another note.
type WikiLink struct {
	// Target is the note name being linked to.
	Target string

	// Alias is the display text when [[target|alias]] syntax is used.
	Alias string
}

// ExtractWikiLinks returns all wiki-links in content, deduplicated by target
// (case-insensitive) and ordered by first appearance.
func ExtractWikiLinks(content string) []WikiLink {
	matches := wikilinkRe.FindAllStringSubmatch(content, -1)

	seen := make(map[string]bool)
	var links []WikiLink
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		key := strings.ToLower(target)
		if target == "" || seen[key] {
			continue
		}
		seen[key] = true
		links = append(links, WikiLink{
			Target: target,
			Alias:  strings.TrimSpace(m[2]),
		})
	}
	return links
}

// StripWikiLinks replaces wiki-links with their plain-text form: the alias
// when present, the target name otherwise. Observation texts stored on
// entities must not carry link markup.
func StripWikiLinks(content string) string {
	return wikilinkRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := wikilinkRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if alias := strings.TrimSpace(parts[2]); alias != "" {
			return alias
		}
		return strings.TrimSpace(parts[1])
	})
}
