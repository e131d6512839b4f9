package manifest

import (
	"regexp"
	"strings"
)

// Requirement is one entry of a dependency field
type Requirement struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
}

// Dependencies are comma-separated, with optional version constraints in parens.
// Example: "R (>= 3.5.0), methods, utils"
var depEntry = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9.]*)\s*(\(([^)]+)\))?`)

var urlSep = regexp.MustCompile(`[,\s]+`)

// ParseDependencyList parses a Depends/Imports/Suggests/Enhances field. The R
// runtime itself is not a package and is skipped. Entries that do not start
// with a package name are ignored.
func ParseDependencyList(field string) []Requirement {
	reqs := []Requirement{}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := depEntry.FindStringSubmatch(part)
		if m == nil || m[1] == "R" {
			continue
		}
		reqs = append(reqs, Requirement{
			Name:       m[1],
			Constraint: strings.Join(strings.Fields(m[3]), " "),
		})
	}
	return reqs
}

// RequirementNames returns just the package names
func RequirementNames(reqs []Requirement) []string {
	names := make([]string, len(reqs))
	for i, r := range reqs {
		names[i] = r.Name
	}
	return names
}

// ParseURLList splits a URL field on commas and whitespace
func ParseURLList(field string) []string {
	urls := []string{}
	for _, u := range urlSep.Split(field, -1) {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
