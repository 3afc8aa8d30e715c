package fragment

import (
	"iter"
	"slices"
	"strings"

	"github.com/agentic-research/vaultgraph/api"
)

// Extractor scans document text for fences declared in a FenceSchema.
// It holds no per-document state; one Extractor serves every document.
type Extractor struct {
	tags map[string]api.Fence
}

func NewExtractor(schema *api.FenceSchema) *Extractor {
	if schema == nil {
		schema = api.DefaultFenceSchema()
	}
	tags := make(map[string]api.Fence, len(schema.Fences))
	for _, f := range schema.Fences {
		tags[strings.ToLower(f.Tag)] = f
	}
	return &Extractor{tags: tags}
}

// Extract returns the fragments of text in start order. The sequence is lazy
// and may be ranged over any number of times; each pass rescans text.
func (e *Extractor) Extract(text string) iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		e.scan(text, yield)
	}
}

// All collects Extract into a slice.
func (e *Extractor) All(text string) []Fragment {
	return slices.Collect(e.Extract(text))
}

type openFence struct {
	char      byte
	length    int
	indent    int
	info      string
	decl      api.Fence
	declared  bool
	bodyStart int
	bodyLine  int
}

func (e *Extractor) scan(text string, yield func(Fragment) bool) {
	var (
		open  *openFence
		index int
		line  int
	)

	emit := func(f *openFence, bodyEnd, endLine int, terminated bool) bool {
		if !f.declared {
			return true
		}
		body := text[f.bodyStart:bodyEnd]
		if f.indent > 0 {
			body = dedent(body, f.indent)
		}
		kind := GraphData
		if f.decl.Kind == api.FenceKindQuery {
			kind = Query
		}
		frag := Fragment{
			Index:  index,
			Kind:   kind,
			Tag:    firstWord(f.info),
			Syntax: f.decl.Syntax,
			Info:   f.info,
			Text:   body,
			Span: Span{
				StartByte: f.bodyStart,
				EndByte:   bodyEnd,
				StartLine: f.bodyLine,
				EndLine:   endLine,
			},
			Terminated:  terminated,
			Fingerprint: Sum(f.decl.Syntax + "\x00" + body),
		}
		index++
		return yield(frag)
	}

	for pos := 0; pos < len(text); {
		line++
		end := strings.IndexByte(text[pos:], '\n')
		next := len(text)
		if end >= 0 {
			next = pos + end + 1
			end = pos + end
		} else {
			end = len(text)
		}
		content := strings.TrimSuffix(text[pos:end], "\r")

		if open == nil {
			if f := e.openingFence(content); f != nil {
				f.bodyStart = next
				f.bodyLine = line + 1
				open = f
			}
		} else if isClosingFence(content, open.char, open.length) {
			if !emit(open, pos, line-1, true) {
				return
			}
			open = nil
		}
		pos = next
	}

	// An unterminated fence runs to end of text.
	if open != nil {
		emit(open, len(text), line, false)
	}
}

// openingFence recognizes a CommonMark fence opener: up to three spaces of
// indentation, then three or more backticks or tildes, then an info string.
func (e *Extractor) openingFence(line string) *openFence {
	indent := 0
	for indent < len(line) && line[indent] == ' ' {
		indent++
	}
	if indent > 3 || indent >= len(line) {
		return nil
	}
	c := line[indent]
	if c != '`' && c != '~' {
		return nil
	}
	n := 0
	for indent+n < len(line) && line[indent+n] == c {
		n++
	}
	if n < 3 {
		return nil
	}
	info := strings.TrimSpace(line[indent+n:])
	if c == '`' && strings.ContainsRune(info, '`') {
		return nil
	}
	f := &openFence{char: c, length: n, indent: indent, info: info}
	if decl, ok := e.tags[strings.ToLower(firstWord(info))]; ok {
		f.decl = decl
		f.declared = true
	}
	return f
}

func isClosingFence(line string, c byte, length int) bool {
	indent := 0
	for indent < len(line) && line[indent] == ' ' {
		indent++
	}
	if indent > 3 {
		return false
	}
	n := 0
	for indent+n < len(line) && line[indent+n] == c {
		n++
	}
	if n < length {
		return false
	}
	return strings.TrimSpace(line[indent+n:]) == ""
}

func firstWord(info string) string {
	if i := strings.IndexAny(info, " \t{"); i >= 0 {
		return info[:i]
	}
	return info
}

// dedent strips up to n leading spaces from every line of body.
func dedent(body string, n int) string {
	lines := strings.SplitAfter(body, "\n")
	var b strings.Builder
	b.Grow(len(body))
	for _, l := range lines {
		i := 0
		for i < n && i < len(l) && l[i] == ' ' {
			i++
		}
		b.WriteString(l[i:])
	}
	return b.String()
}
