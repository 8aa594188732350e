// Package directive resolves a directive item to its parsed metadata and
// body. It covers exactly what the execute primary's in-thread directive
// mode needs — locate the file, split an optional YAML frontmatter block
// from the markdown body, and fill in the fields a caller acts on. Full
// placeholder interpolation and action-template extraction are handled
// by the callers that need them, not here.
package directive

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leolilley/ryeos/internal/space"
	"github.com/leolilley/ryeos/pkg/models"
)

// Instruction is the fixed nudge handed back to the calling agent
// alongside a directive's body in in-thread execution mode.
const Instruction = "Execute the directive as specified now."

// Extensions are the on-disk suffixes a directive file may carry.
var Extensions = []string{".md"}

// Load resolves itemID against tiers and parses its content into a
// Directive. A directive file with no frontmatter block is treated as
// a bare body with no declared metadata; Name and Category default to
// itemID's basename and containing directory in that case.
func Load(tiers []space.Tier, itemID string) (*models.Directive, *space.Resolved, error) {
	resolved, err := space.Resolve(tiers, itemID, Extensions)
	if err != nil {
		return nil, nil, err
	}
	content, err := os.ReadFile(resolved.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("directive: read %q: %w", resolved.Path, err)
	}

	front, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("directive: %s: %w", itemID, err)
	}

	var d models.Directive
	if len(front) > 0 {
		if err := yaml.Unmarshal(front, &d); err != nil {
			return nil, nil, fmt.Errorf("directive: %s: parse frontmatter: %w", itemID, err)
		}
	}
	d.Body = strings.TrimSpace(body)

	if d.Name == "" {
		d.Name = path.Base(itemID)
	}
	if d.Category == "" {
		d.Category = path.Dir(itemID)
	}

	return &d, resolved, nil
}

// delimiter marks the start and end of a directive's YAML frontmatter
// block, mirroring the convention knowledge and skill files use
// elsewhere in the tree.
const delimiter = "---"

// splitFrontmatter pulls a leading "---"-delimited YAML block off of
// content and returns it alongside the remaining body. Content with no
// opening delimiter on its first line is returned whole as the body,
// with a nil frontmatter slice.
func splitFrontmatter(content []byte) (front []byte, body string, err error) {
	text := string(content)
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delimiter {
		return nil, text, nil
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			frontText := strings.Join(lines[1:i], "\n")
			bodyText := strings.Join(lines[i+1:], "\n")
			return []byte(frontText), bodyText, nil
		}
	}
	return nil, "", fmt.Errorf("unterminated frontmatter block")
}
