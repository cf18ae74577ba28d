package markup

import (
	"fmt"
	"strings"

	"github.com/adrg/frontmatter"
)

// FrontMatter is the optional YAML header of a markup page.
type FrontMatter struct {
	Title  string `yaml:"title"`
	Host   string `yaml:"host"`
	Course string `yaml:"course"`
}

// SplitFrontMatter separates an optional front matter block from the page
// body. Pages without one are returned unchanged.
func SplitFrontMatter(src string) (FrontMatter, string, error) {
	var meta FrontMatter
	body, err := frontmatter.Parse(strings.NewReader(src), &meta)
	if err != nil {
		return FrontMatter{}, "", fmt.Errorf("parse front matter: %w", err)
	}
	return meta, string(body), nil
}
