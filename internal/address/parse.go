package address

import (
	"net/url"
	"strings"
)

// Parse reads the wire form of an address.
func Parse(text string) (Address, error) {
	text = strings.TrimSpace(text)
	i := strings.Index(text, "://")
	if i <= 0 {
		return Address{}, &Error{Input: text, Err: ErrMalformed, Reason: "missing scheme"}
	}
	scheme := strings.ToLower(text[:i])
	rest := text[i+3:]
	if strings.ContainsAny(rest, "?#") {
		return Address{}, &Error{Input: text, Err: ErrMalformed, Reason: "query or fragment component not allowed"}
	}

	switch scheme {
	case VaultScheme:
		if rest == "" {
			return Workspace(), nil
		}
		p, err := NormalizePath(rest)
		if err != nil {
			return Address{}, &Error{Input: text, Err: ErrMalformed, Reason: err.Error()}
		}
		if strings.Trim(p, Separator) == "" {
			return Address{}, &Error{Input: text, Err: ErrEmptyPath}
		}
		if strings.HasSuffix(p, Separator) {
			return Address{kind: KindSubtree, path: p}, nil
		}
		return Address{kind: KindDocument, path: p}, nil
	case MetaScheme:
		switch strings.Trim(rest, Separator) {
		case "":
			return Meta(), nil
		case ontologyPath:
			return MetaOntology(), nil
		}
		return Address{}, &Error{Input: text, Err: ErrMalformed, Reason: "unknown meta graph " + rest}
	default:
		return Address{}, &Error{Input: text, Err: ErrMalformed, Reason: "unknown scheme " + scheme}
	}
}

// MustParse is Parse for constant inputs; it panics on error.
func MustParse(text string) Address {
	a, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return a
}

// NormalizePath canonicalizes a workspace-relative path: backslashes become
// separators, percent-escapes are decoded, "." and ".." segments are folded
// and leading/duplicate separators are dropped. A trailing separator is kept.
// Paths that climb above the workspace root are rejected.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, Separator)
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", err
	}
	trailing := strings.HasSuffix(decoded, Separator)

	var stack []string
	for _, seg := range strings.Split(decoded, Separator) {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return "", &Error{Input: p, Err: ErrMalformed, Reason: "path escapes workspace root"}
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, seg)
		}
	}
	out := strings.Join(stack, Separator)
	if trailing && out != "" {
		out += Separator
	}
	return out, nil
}

// Resolve interprets ref relative to base. Absolute references (with a
// scheme) are parsed as-is. Relative references are resolved against the
// base's implicit trailing-separator form, so from document notes/a.md the
// reference "../b.md" names notes/b.md. A reference starting with the
// separator is rooted at the workspace.
func Resolve(base Address, ref string) (Address, error) {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, "://") {
		return Parse(ref)
	}
	if base.IsSynthetic() {
		return Address{}, &Error{Input: ref, Err: ErrMalformed, Reason: "cannot resolve relative reference against " + base.String()}
	}
	if strings.ContainsAny(ref, "?#") {
		return Address{}, &Error{Input: ref, Err: ErrMalformed, Reason: "query or fragment component not allowed"}
	}
	if ref == "" {
		return base, nil
	}

	var joined string
	if strings.HasPrefix(ref, Separator) {
		joined = ref
	} else {
		prefix := base.path
		if prefix != "" && !strings.HasSuffix(prefix, Separator) {
			prefix += Separator
		}
		joined = prefix + ref
	}

	last := ref[strings.LastIndex(ref, Separator)+1:]
	dir := strings.HasSuffix(ref, Separator) || last == "." || last == ".."

	p, err := NormalizePath(joined)
	if err != nil {
		return Address{}, &Error{Input: ref, Err: ErrMalformed, Reason: err.Error()}
	}
	p = strings.TrimSuffix(p, Separator)
	if p == "" {
		return Workspace(), nil
	}
	if dir {
		return Address{kind: KindSubtree, path: p + Separator}, nil
	}
	return Address{kind: KindDocument, path: p}, nil
}
