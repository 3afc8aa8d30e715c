package plan

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Dataset is what the query prologue declares about graphs: its BASE,
// PREFIX table, query form and FROM / FROM NAMED references. References
// are returned as written (prefixed names expanded), unresolved.
type Dataset struct {
	Base      string
	Prefixes  map[string]string
	Form      string // SELECT, ASK, CONSTRUCT or DESCRIBE; empty when absent
	From      []string
	FromNamed []string
}

// SyntaxError reports a malformed prologue or dataset clause.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("query syntax at offset %d: %s", e.Offset, e.Msg)
}

// ScanDataset reads the query up to the start of its WHERE clause and
// collects the dataset clauses. The query body is not parsed; evaluation
// belongs to the evaluator.
func ScanDataset(text string) (Dataset, error) {
	s := &scanner{src: text}
	ds := Dataset{Prefixes: map[string]string{}}
	templateSkipped := false

	for {
		tok, err := s.next()
		if err != nil {
			return ds, err
		}
		switch {
		case tok.kind == tokEOF:
			return ds, nil
		case tok.kind == tokPunct && tok.text == "{":
			if ds.Form == "CONSTRUCT" && !templateSkipped && len(ds.From) == 0 && len(ds.FromNamed) == 0 {
				if err := s.skipGroup(); err != nil {
					return ds, err
				}
				templateSkipped = true
				continue
			}
			return ds, nil
		case tok.kind != tokWord:
			continue
		}

		switch strings.ToUpper(tok.text) {
		case "BASE":
			iri, err := s.expectIRI()
			if err != nil {
				return ds, err
			}
			ds.Base = iri
		case "PREFIX":
			name, err := s.next()
			if err != nil {
				return ds, err
			}
			if name.kind != tokWord || !strings.HasSuffix(name.text, ":") {
				return ds, &SyntaxError{Offset: name.pos, Msg: "PREFIX expects a prefix name ending in ':'"}
			}
			iri, err := s.expectIRI()
			if err != nil {
				return ds, err
			}
			ds.Prefixes[strings.TrimSuffix(name.text, ":")] = iri
		case "SELECT", "ASK", "CONSTRUCT", "DESCRIBE":
			if ds.Form == "" {
				ds.Form = strings.ToUpper(tok.text)
			}
		case "FROM":
			named := false
			ref, err := s.next()
			if err != nil {
				return ds, err
			}
			if ref.kind == tokWord && strings.EqualFold(ref.text, "NAMED") {
				named = true
				if ref, err = s.next(); err != nil {
					return ds, err
				}
			}
			iri, err := ds.iriOf(ref)
			if err != nil {
				return ds, err
			}
			if named {
				ds.FromNamed = append(ds.FromNamed, iri)
			} else {
				ds.From = append(ds.From, iri)
			}
		case "WHERE":
			return ds, nil
		}
	}
}

// iriOf accepts an IRI reference or a prefixed name.
func (ds *Dataset) iriOf(t token) (string, error) {
	switch t.kind {
	case tokIRI:
		return t.text, nil
	case tokWord:
		i := strings.IndexByte(t.text, ':')
		if i < 0 {
			break
		}
		ns, ok := ds.Prefixes[t.text[:i]]
		if !ok {
			return "", &SyntaxError{Offset: t.pos, Msg: fmt.Sprintf("undeclared prefix %q", t.text[:i])}
		}
		return ns + t.text[i+1:], nil
	}
	return "", &SyntaxError{Offset: t.pos, Msg: "FROM expects an IRI"}
}

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokWord
	tokIRI
	tokString
	tokPunct
)

type token struct {
	kind tokKind
	text string
	pos  int
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) next() (token, error) {
	s.skipSpaceAndComments()
	if s.pos >= len(s.src) {
		return token{kind: tokEOF, pos: s.pos}, nil
	}
	start := s.pos
	c := s.src[s.pos]
	switch {
	case c == '<':
		// '<' is also a comparison operator; an IRI reference has no whitespace.
		end := strings.IndexAny(s.src[s.pos+1:], "<>\"{}|^`\\ \t\r\n")
		if end < 0 {
			return token{}, &SyntaxError{Offset: start, Msg: "unterminated IRI"}
		}
		if s.src[s.pos+1+end] == '>' {
			s.pos += end + 2
			return token{kind: tokIRI, text: s.src[start+1 : s.pos-1], pos: start}, nil
		}
		s.pos++
		return token{kind: tokPunct, text: "<", pos: start}, nil
	case c == '"' || c == '\'':
		if err := s.skipString(c); err != nil {
			return token{}, err
		}
		return token{kind: tokString, text: s.src[start:s.pos], pos: start}, nil
	case isWordByte(c) || c >= utf8.RuneSelf:
		for s.pos < len(s.src) {
			r, size := utf8.DecodeRuneInString(s.src[s.pos:])
			if !isWordRune(r) {
				break
			}
			s.pos += size
		}
		if s.pos > start {
			return token{kind: tokWord, text: s.src[start:s.pos], pos: start}, nil
		}
		_, size := utf8.DecodeRuneInString(s.src[s.pos:])
		s.pos += size
		return token{kind: tokPunct, text: s.src[start:s.pos], pos: start}, nil
	default:
		s.pos++
		return token{kind: tokPunct, text: string(c), pos: start}, nil
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c == ':' || c == '?' || c == '$' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isWordRune(r rune) bool {
	if r < utf8.RuneSelf {
		return isWordByte(byte(r))
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (s *scanner) skipSpaceAndComments() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			s.pos++
		case c == '#':
			if nl := strings.IndexByte(s.src[s.pos:], '\n'); nl >= 0 {
				s.pos += nl + 1
			} else {
				s.pos = len(s.src)
			}
		default:
			return
		}
	}
}

// skipString moves past a short or long string literal starting at pos.
func (s *scanner) skipString(q byte) error {
	start := s.pos
	delim := string(q)
	if strings.HasPrefix(s.src[s.pos:], strings.Repeat(delim, 3)) {
		delim = strings.Repeat(delim, 3)
	}
	s.pos += len(delim)
	for s.pos < len(s.src) {
		switch {
		case s.src[s.pos] == '\\':
			s.pos += 2
		case strings.HasPrefix(s.src[s.pos:], delim):
			s.pos += len(delim)
			return nil
		case s.src[s.pos] == '\n' && len(delim) == 1:
			return &SyntaxError{Offset: start, Msg: "unterminated string"}
		default:
			s.pos++
		}
	}
	return &SyntaxError{Offset: start, Msg: "unterminated string"}
}

// skipGroup skips a balanced { } group whose opening brace was consumed.
func (s *scanner) skipGroup() error {
	depth := 1
	for depth > 0 {
		tok, err := s.next()
		if err != nil {
			return err
		}
		switch {
		case tok.kind == tokEOF:
			return &SyntaxError{Offset: tok.pos, Msg: "unbalanced braces"}
		case tok.kind == tokPunct && tok.text == "{":
			depth++
		case tok.kind == tokPunct && tok.text == "}":
			depth--
		}
	}
	return nil
}

func (s *scanner) expectIRI() (string, error) {
	tok, err := s.next()
	if err != nil {
		return "", err
	}
	if tok.kind != tokIRI {
		return "", &SyntaxError{Offset: tok.pos, Msg: "expected an IRI"}
	}
	return tok.text, nil
}
