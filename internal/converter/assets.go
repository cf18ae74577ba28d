package converter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// StaticDirName is the per-unit directory the platform serves as CURRENT/.
const StaticDirName = "__STATIC__"

// CurrentPrefix is the platform-relative URL prefix of the static directory.
const CurrentPrefix = "CURRENT/"

var (
	imgTagPattern = regexp.MustCompile(`(<img [^>]+>)`)
	imgSrcPattern = regexp.MustCompile(`src[ ]*=[ ]*["']([^'"]+)["']`)
)

// isLocalAsset reports whether url points at a file next to the notebook.
func isLocalAsset(url string) bool {
	switch {
	case url == "":
		return false
	case strings.HasPrefix(url, "/"), strings.HasPrefix(url, CurrentPrefix):
		return false
	case strings.HasPrefix(url, "#"), strings.HasPrefix(url, "data:"), strings.HasPrefix(url, "mailto:"):
		return false
	case strings.Contains(url, "://"):
		return false
	}
	return true
}

// rewriteImages points local image sources in a markdown cell at CURRENT/
// and copies the files into the unit's static directory. Both <img> tags and
// markdown image syntax are handled.
func (c *MarkupConverter) rewriteImages(u *unit, md string) string {
	out := imgTagPattern.ReplaceAllStringFunc(md, func(tag string) string {
		return imgSrcPattern.ReplaceAllStringFunc(tag, func(attr string) string {
			url := imgSrcPattern.FindStringSubmatch(attr)[1]
			if !isLocalAsset(url) {
				return fmt.Sprintf(`src="%s"`, url)
			}
			c.ensureStaticCopy(u, url)
			return fmt.Sprintf(`src="%s%s"`, CurrentPrefix, url)
		})
	})

	for _, dest := range markdownImageDestinations(out) {
		if !isLocalAsset(dest) {
			continue
		}
		c.ensureStaticCopy(u, dest)
		out = rewriteImageDestination(out, dest)
	}
	return out
}

// rewriteImageDestination prefixes dest with CURRENT/ where it is the target
// of an inline image, or of a reference definition when no inline image uses
// it. Plain links and longer paths sharing dest as a prefix are left alone.
func rewriteImageDestination(md, dest string) string {
	quoted := regexp.QuoteMeta(dest)
	replacement := "${1}" + strings.ReplaceAll(CurrentPrefix+dest, "$", "$$") + "${2}"

	inline := regexp.MustCompile(`(!\[[^\]]*\]\([ \t]*<?)` + quoted + `(>?[ \t)])`)
	if inline.MatchString(md) {
		return inline.ReplaceAllString(md, replacement)
	}
	reference := regexp.MustCompile(`(?m)(^[ ]{0,3}\[[^\]]+\]:[ \t]*<?)` + quoted + `(>?(?:[ \t]|$))`)
	return reference.ReplaceAllString(md, replacement)
}

// markdownImageDestinations walks the goldmark AST of md and returns the
// distinct image destinations in document order.
func markdownImageDestinations(md string) []string {
	source := []byte(md)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var dests []string
	seen := map[string]struct{}{}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindImage {
			return ast.WalkContinue, nil
		}
		dest := string(n.(*ast.Image).Destination)
		if _, ok := seen[dest]; !ok {
			seen[dest] = struct{}{}
			dests = append(dests, dest)
		}
		return ast.WalkContinue, nil
	})
	return dests
}

// ensureStaticCopy copies <unit>/<rel> to <unit>/__STATIC__/<rel> unless the
// destination exists and is not older than the source. The copy takes the
// source modification time so repeated runs leave it untouched.
func (c *MarkupConverter) ensureStaticCopy(u *unit, rel string) {
	logger := c.logger.With().Str("asset", rel).Logger()
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		logger.Warn().Msg("image path escapes the unit directory; not copied")
		return
	}

	src := filepath.Join(u.dir, filepath.FromSlash(rel))
	dst := filepath.Join(u.staticDir, filepath.FromSlash(rel))

	srcInfo, err := os.Stat(src)
	if err != nil {
		logger.Warn().Err(err).Msg("referenced image not found")
		return
	}
	if dstInfo, err := os.Stat(dst); err == nil && !srcInfo.ModTime().After(dstInfo.ModTime()) {
		return
	}

	logger.Debug().Str("from", src).Str("to", dst).Msg("copying static asset")
	if err := copyFile(src, dst); err != nil {
		logger.Warn().Err(err).Msg("failed to copy static asset")
		return
	}
	if err := os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		logger.Warn().Err(err).Msg("failed to set static asset time")
	}
	u.assets = append(u.assets, dst)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writeAsset writes data into the static directory, leaving an existing
// file with identical content alone.
func (c *MarkupConverter) writeAsset(u *unit, name string, data []byte) error {
	path := filepath.Join(u.staticDir, name)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return nil
	}
	if err := os.MkdirAll(u.staticDir, 0o755); err != nil {
		return fmt.Errorf("create static dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write asset %s: %w", name, err)
	}
	u.assets = append(u.assets, path)
	return nil
}
