package importer

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Note is a single parsed Markdown note, shaped for graph import: the note
// name identifies the entity, the body becomes observations, and the
// wiki-links become outgoing relations.
type Note struct {
	// Name is the entity name: frontmatter "title", first H1, or the file
	// name, in that priority order.
	Name string

	// EntityType comes from the frontmatter "type" field, falling back to
	// the note's top-level directory, then to "note".
	EntityType string

	// Observations are the note's content blocks (paragraphs and list
	// items) with link markup stripped.
	Observations []string

	// Links are the outgoing [[wiki-link]] references.
	Links []WikiLink

	// RelativePath locates the note inside the vault.
	RelativePath string
}

// maxObservationLen truncates pathological single-block notes so one
// observation stays a fact-sized unit rather than a document.
const maxObservationLen = 1000

// ParseNote parses one Markdown file into its graph shape.
func ParseNote(content []byte, relativePath string) (*Note, error) {
	fm, body, err := splitFrontmatter(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", relativePath, err)
	}

	name := frontmatterString(fm, "title")
	if name == "" {
		name = firstHeading(body)
	}
	if name == "" {
		name = nameFromPath(relativePath)
	}

	entityType := frontmatterString(fm, "type")
	if entityType == "" {
		entityType = typeFromPath(relativePath)
	}

	note := &Note{
		Name:         name,
		EntityType:   entityType,
		Links:        ExtractWikiLinks(body),
		RelativePath: relativePath,
	}

	for _, block := range contentBlocks(body) {
		obs := strings.TrimSpace(StripWikiLinks(block))
		if obs == "" {
			continue
		}
		if len(obs) > maxObservationLen {
			obs = obs[:maxObservationLen]
		}
		note.Observations = append(note.Observations, obs)
	}
	if tags := frontmatterTags(fm); len(tags) > 0 {
		note.Observations = append(note.Observations, "tags: "+strings.Join(tags, ", "))
	}

	return note, nil
}

// splitFrontmatter separates YAML frontmatter (between --- delimiters on
// their own lines) from the Markdown body. A file without frontmatter
// returns an empty map and the full text.
func splitFrontmatter(text string) (map[string]interface{}, string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]interface{}{}, text, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return map[string]interface{}{}, text, nil
	}

	fm := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fm); err != nil {
		return nil, "", fmt.Errorf("invalid frontmatter: %w", err)
	}
	return fm, strings.Join(lines[closeIdx+1:], "\n"), nil
}

// contentBlocks splits a Markdown body into observation-sized units: one per
// list item, one per paragraph. Headings are dropped (the first one already
// served as the name; the rest are structure, not facts).
func contentBlocks(body string) []string {
	var blocks []string
	var paragraph []string

	flush := func() {
		if len(paragraph) > 0 {
			blocks = append(blocks, strings.Join(paragraph, " "))
			paragraph = nil
		}
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "", strings.HasPrefix(trimmed, "#"):
			flush()
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			flush()
			blocks = append(blocks, strings.TrimSpace(trimmed[2:]))
		default:
			paragraph = append(paragraph, trimmed)
		}
	}
	flush()
	return blocks
}

// firstHeading returns the text of the first ATX heading (# ...), if any.
func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// nameFromPath derives an entity name from the file name, with separators
// turned back into spaces.
func nameFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

// typeFromPath uses the vault's top-level directory as the entity type, the
// way Obsidian vaults are commonly organized ("people/", "projects/").
func typeFromPath(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) > 1 {
		segment := strings.ToLower(strings.TrimSpace(parts[0]))
		// Singularize the common folder convention.
		segment = strings.TrimSuffix(segment, "s")
		if segment != "" {
			return segment
		}
	}
	return "note"
}

func frontmatterString(fm map[string]interface{}, key string) string {
	if v, ok := fm[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// frontmatterTags reads the "tags" field, accepting both YAML list and
// comma-separated string forms.
func frontmatterTags(fm map[string]interface{}) []string {
	raw, ok := fm["tags"]
	if !ok {
		return nil
	}
	var tags []string
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				tags = append(tags, strings.TrimSpace(s))
			}
		}
	case string:
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}
