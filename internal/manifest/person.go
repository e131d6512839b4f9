package manifest

import (
	"regexp"
	"strings"
)

// Person is one entry of a person-list field such as Maintainer or Author.
// Email is nil when the entry carries no email.
type Person struct {
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
}

var (
	emailTag     = regexp.MustCompile(`(?i)<email>\s*([^<]*?)\s*</email>`)
	angleEmail   = regexp.MustCompile(`<\s*([^<>]*?)\s*>`)
	parenEmail   = regexp.MustCompile(`\(\s*([^()]*@[^()]*?)\s*\)`)
	roleNote     = regexp.MustCompile(`\[[^\]]*\]`)
	parenNote    = regexp.MustCompile(`\([^()]*\)`)
	spaceRun     = regexp.MustCompile(`\s+`)
	trailingJunk = " \t,;"
)

// ParsePersonList splits a comma separated person list and extracts an
// optional email per entry. Recognised notations are "Name <email>",
// "Name (email)" and the bare-tag "Name <email>addr</email>". Role
// annotations in square brackets and parenthetical notes that are not an
// email are dropped. Commas inside brackets do not split entries.
func ParsePersonList(field string) []Person {
	people := []Person{}
	for _, entry := range splitTopLevel(field) {
		if p, ok := parsePerson(entry); ok {
			people = append(people, p)
		}
	}
	return people
}

func parsePerson(entry string) (Person, bool) {
	entry = roleNote.ReplaceAllString(entry, " ")

	var email string
	if m := emailTag.FindStringSubmatchIndex(entry); m != nil {
		email = entry[m[2]:m[3]]
		entry = entry[:m[0]] + " " + entry[m[1]:]
	} else if m := angleEmail.FindStringSubmatchIndex(entry); m != nil {
		email = entry[m[2]:m[3]]
		entry = entry[:m[0]] + " " + entry[m[1]:]
	} else if m := parenEmail.FindStringSubmatchIndex(entry); m != nil {
		email = entry[m[2]:m[3]]
		entry = entry[:m[0]] + " " + entry[m[1]:]
	}
	entry = parenNote.ReplaceAllString(entry, " ")

	name := strings.Trim(spaceRun.ReplaceAllString(entry, " "), trailingJunk)
	email = strings.TrimPrefix(strings.TrimSpace(email), "mailto:")

	p := Person{Name: name}
	if email != "" {
		p.Email = &email
	}
	if p.Name == "" && p.Email == nil {
		return Person{}, false
	}
	return p, true
}

// splitTopLevel splits on commas that are not nested in <>, () or []
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])

	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
