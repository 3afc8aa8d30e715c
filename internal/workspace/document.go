package workspace

import (
	"fmt"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentic-research/vaultgraph/internal/address"
	"github.com/agentic-research/vaultgraph/internal/fragment"
)

// Document is an immutable snapshot of one document. Every content change
// produces a new Document with a higher Version; holders of an older
// snapshot keep a consistent view.
type Document struct {
	Path    string
	Text    string
	ModTime time.Time
	Version uint64

	// Fragments in start order, re-extracted wholesale on every change.
	Fragments []fragment.Fragment

	// Frontmatter is the YAML header, nil when absent or unparseable.
	Frontmatter    map[string]any
	FrontmatterErr error

	// GraphFingerprint combines the fingerprints of the graph-data
	// fragments. Equal values mean the document graph is unchanged.
	GraphFingerprint fragment.Fingerprint
}

func (d *Document) Address() address.Address { return address.Document(d.Path) }

func (d *Document) Size() int { return len(d.Text) }

// Extension returns the file extension without the leading dot.
func (d *Document) Extension() string {
	return strings.TrimPrefix(path.Ext(d.Path), ".")
}

func (d *Document) GraphFragments() []fragment.Fragment {
	return d.fragmentsOf(fragment.GraphData)
}

func (d *Document) QueryFragments() []fragment.Fragment {
	return d.fragmentsOf(fragment.Query)
}

func (d *Document) fragmentsOf(k fragment.Kind) []fragment.Fragment {
	var out []fragment.Fragment
	for _, f := range d.Fragments {
		if f.Kind == k {
			out = append(out, f)
		}
	}
	return out
}

func newDocument(p, text string, modTime time.Time, version uint64, ex *fragment.Extractor) *Document {
	d := &Document{
		Path:      p,
		Text:      text,
		ModTime:   modTime,
		Version:   version,
		Fragments: ex.All(text),
	}
	var fps []fragment.Fingerprint
	for _, f := range d.Fragments {
		if f.Kind == fragment.GraphData {
			fps = append(fps, f.Fingerprint)
		}
	}
	d.GraphFingerprint = fragment.Combine(fps...)
	if strings.HasPrefix(text, "---") {
		d.Frontmatter, d.FrontmatterErr = extractFrontmatter(text)
	}
	return d
}

// extractFrontmatter parses a leading "---" delimited YAML block.
func extractFrontmatter(content string) (map[string]any, error) {
	const delimiter = "---"

	start := len(delimiter)
	if len(content) > start && content[start] == '\r' {
		start++
	}
	if len(content) > start && content[start] == '\n' {
		start++
	} else {
		// "----" or "---text" is not a frontmatter opener
		return nil, nil
	}

	closeIdx := strings.Index(content[start:], "\n"+delimiter)
	if closeIdx == -1 {
		return nil, fmt.Errorf("no closing frontmatter delimiter")
	}
	yamlContent := content[start : start+closeIdx]

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &fm); err != nil {
		return nil, fmt.Errorf("parse YAML frontmatter: %w", err)
	}
	return fm, nil
}
