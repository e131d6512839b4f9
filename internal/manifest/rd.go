package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkgindex/registry/internal/registry"
)

// TopicDoc holds the documentation fields of one topic, either parsed from
// an Rd source or decoded from a JSON submission.
type TopicDoc struct {
	Name        string              `json:"name"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Usage       string              `json:"usage"`
	Details     string              `json:"details"`
	Value       string              `json:"value"`
	Note        string              `json:"note"`
	References  string              `json:"references"`
	SeeAlso     string              `json:"seealso"`
	Examples    string              `json:"examples"`
	Author      string              `json:"author"`
	Aliases     []string            `json:"aliases"`
	Keywords    []string            `json:"keywords"`
	Arguments   []registry.Argument `json:"arguments"`
}

// Validate checks the fields a topic cannot be stored without
func (d *TopicDoc) Validate() error {
	var errs []registry.FieldError
	d.Name = strings.TrimSpace(d.Name)
	d.Title = strings.TrimSpace(d.Title)
	if d.Name == "" {
		errs = append(errs, registry.FieldError{Field: "name", Message: "is required"})
	}
	if d.Title == "" {
		errs = append(errs, registry.FieldError{Field: "title", Message: "is required"})
	}
	if len(errs) > 0 {
		return registry.Validation("decode topic", errs...)
	}
	return nil
}

var (
	blankLines = regexp.MustCompile(`\n[ \t]*\n\s*`)
	inlineWS   = regexp.MustCompile(`[ \t\r\n]+`)
)

// ParseRd parses an Rd documentation source. Only the top-level sections
// that describe a topic are kept; inline markup is reduced to plain text.
func ParseRd(raw string) (*TopicDoc, error) {
	doc := &TopicDoc{}
	s := raw
	sections := 0

	for i := 0; i < len(s); {
		switch c := s[i]; {
		case c == '%':
			i = skipComment(s, i)
		case c == '\\' && i+1 < len(s) && isLetter(s[i+1]):
			start := i
			name, next := readMacroName(s, i+1)
			i = skipOption(s, next)

			var args []string
			for n := sectionArgs(name); len(args) < n; {
				j := skipSpace(s, i)
				if j >= len(s) || s[j] != '{' {
					break
				}
				body, end, err := readGroup(s, j)
				if err != nil {
					return nil, &ParseError{Line: lineOf(s, start), Msg: fmt.Sprintf("\\%s: %v", name, err)}
				}
				args = append(args, body)
				i = end
			}
			if len(args) > 0 {
				sections++
				doc.assign(name, args)
			}
		case c == '\\':
			i += 2
		case c == '{':
			_, end, err := readGroup(s, i)
			if err != nil {
				return nil, &ParseError{Line: lineOf(s, i), Msg: err.Error()}
			}
			i = end
		case c == '}':
			return nil, &ParseError{Line: lineOf(s, i), Msg: "unexpected '}'"}
		default:
			i++
		}
	}

	if sections == 0 {
		return nil, &ParseError{Msg: "no Rd sections found"}
	}
	return doc, nil
}

func (d *TopicDoc) assign(section string, args []string) {
	text := func() string { return renderRd(args[0], false) }
	switch section {
	case "name":
		d.Name = text()
	case "alias":
		d.Aliases = append(d.Aliases, text())
	case "title":
		d.Title = text()
	case "description":
		d.Description = text()
	case "usage":
		d.Usage = renderRd(args[0], true)
	case "examples":
		d.Examples = renderRd(args[0], true)
	case "details":
		d.Details = joinParagraphs(d.Details, text())
	case "section":
		if len(args) == 2 {
			d.Details = joinParagraphs(d.Details, renderRd(args[0], false)+":\n"+renderRd(args[1], false))
		}
	case "value":
		d.Value = text()
	case "note":
		d.Note = text()
	case "references":
		d.References = text()
	case "seealso":
		d.SeeAlso = text()
	case "author":
		d.Author = text()
	case "keyword":
		d.Keywords = append(d.Keywords, text())
	case "arguments":
		d.Arguments = append(d.Arguments, parseArguments(args[0])...)
	}
}

func parseArguments(s string) []registry.Argument {
	var out []registry.Argument
	for i := 0; i < len(s); {
		switch {
		case s[i] == '%':
			i = skipComment(s, i)
		case strings.HasPrefix(s[i:], `\item`) && (i+5 == len(s) || !isLetter(s[i+5])):
			j := skipSpace(s, i+5)
			name, end, err := readGroup(s, j)
			if err != nil {
				return out
			}
			j = skipSpace(s, end)
			desc, end, err := readGroup(s, j)
			if err != nil {
				return out
			}
			out = append(out, registry.Argument{
				Name:        renderRd(name, false),
				Description: renderRd(desc, false),
			})
			i = end
		case s[i] == '\\':
			i += 2
		default:
			i++
		}
	}
	return out
}

// renderRd reduces Rd markup to text. Verbatim sections keep their layout.
func renderRd(s string, verbatim bool) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && isLetter(s[i+1]):
			name, next := readMacroName(s, i+1)
			i = skipOption(s, next)
			var groups []string
			for i < len(s) && s[i] == '{' {
				body, end, err := readGroup(s, i)
				if err != nil {
					break
				}
				groups = append(groups, body)
				i = end
			}
			b.WriteString(renderMacro(name, groups, verbatim))
		case c == '\\' && i+1 < len(s):
			b.WriteByte(s[i+1])
			i += 2
		case c == '%':
			i = skipComment(s, i)
		case c == '{' || c == '}':
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}

	out := b.String()
	if verbatim {
		lines := strings.Split(strings.Trim(out, "\n"), "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight(l, " \t\r")
		}
		return strings.Join(lines, "\n")
	}

	paragraphs := blankLines.Split(strings.TrimSpace(out), -1)
	for i, p := range paragraphs {
		paragraphs[i] = strings.TrimSpace(inlineWS.ReplaceAllString(p, " "))
	}
	return strings.Join(paragraphs, "\n\n")
}

func renderMacro(name string, groups []string, verbatim bool) string {
	arg := func(n int) string {
		if n < len(groups) {
			return renderRd(groups[n], verbatim)
		}
		return ""
	}
	switch name {
	case "R":
		return "R"
	case "dots", "ldots":
		return "..."
	case "cr":
		return "\n"
	case "tab":
		return "\t"
	case "sQuote":
		return "'" + arg(0) + "'"
	case "dQuote":
		return `"` + arg(0) + `"`
	case "href":
		if len(groups) > 1 {
			return arg(1)
		}
		return arg(0)
	case "item":
		if len(groups) == 2 {
			return arg(0) + ": " + arg(1)
		}
		return "\n- "
	case "itemize", "enumerate", "describe":
		return "\n" + arg(0) + "\n"
	}
	return arg(0)
}

// readGroup reads a brace group starting at s[i] == '{' and returns its
// content and the index after the closing brace.
func readGroup(s string, i int) (string, int, error) {
	if i >= len(s) || s[i] != '{' {
		return "", i, fmt.Errorf("expected '{'")
	}
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '%':
			j = skipComment(s, j) - 1
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[i+1 : j], j + 1, nil
			}
		}
	}
	return "", len(s), fmt.Errorf("unbalanced braces")
}

func readMacroName(s string, i int) (string, int) {
	j := i
	for j < len(s) && isLetter(s[j]) {
		j++
	}
	return s[i:j], j
}

// skipOption skips an optional [..] argument such as \link[pkg]{topic}
func skipOption(s string, i int) int {
	if i < len(s) && s[i] == '[' {
		if end := strings.IndexByte(s[i:], ']'); end >= 0 {
			return i + end + 1
		}
	}
	return i
}

func skipComment(s string, i int) int {
	if end := strings.IndexByte(s[i:], '\n'); end >= 0 {
		return i + end
	}
	return len(s)
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

func sectionArgs(name string) int {
	if name == "section" {
		return 2
	}
	return 1
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func lineOf(s string, pos int) int {
	return strings.Count(s[:pos], "\n") + 1
}

func joinParagraphs(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}
