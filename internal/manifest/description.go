package manifest

import (
	"regexp"
	"strings"
	"time"

	"github.com/pkgindex/registry/internal/registry"
)

var (
	packageNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9.]*$`)
	versionPattern     = regexp.MustCompile(`^[0-9]+([.-][0-9]+)*$`)
)

// dateLayouts are tried in order when decoding the Date field
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02",
}

// Description is the validated, typed view of a manifest
type Description struct {
	PackageName string
	Title       string
	Version     string
	Date        *time.Time
	Maintainer  Person
	Description string
	License     string
	URL         []string
	Copyright   string
	Author      string
	Authors     []Person
	Depends     []Requirement
	Imports     []Requirement
	Suggests    []Requirement
	Enhances    []Requirement
}

// Requirements returns the dependency entries for a kind
func (d *Description) Requirements(kind registry.DependencyKind) []Requirement {
	switch kind {
	case registry.DependsOn:
		return d.Depends
	case registry.Imports:
		return d.Imports
	case registry.Suggests:
		return d.Suggests
	case registry.Enhances:
		return d.Enhances
	}
	return nil
}

// DecodeDescription validates fields and builds a Description. Every field
// problem is reported in a single validation error.
func DecodeDescription(fields Fields) (*Description, error) {
	var errs []registry.FieldError
	fail := func(field, msg string) {
		errs = append(errs, registry.FieldError{Field: field, Message: msg})
	}
	required := func(field string, aliases ...string) string {
		v, _ := fields.Get(field, aliases...)
		if v == "" {
			fail(field, "is required")
		}
		return v
	}

	d := &Description{
		PackageName: required("PackageName", "Package"),
		Title:       required("Title"),
		Version:     required("Version"),
		Description: required("Description"),
		License:     required("License"),
	}
	maintainer := required("Maintainer")

	if d.PackageName != "" && !packageNamePattern.MatchString(d.PackageName) {
		fail("PackageName", "must start with a letter and contain only letters, digits and dots")
	}
	if d.Version != "" && !versionPattern.MatchString(d.Version) {
		fail("Version", "must be a sequence of integers separated by '.' or '-'")
	}

	if maintainer != "" {
		people := ParsePersonList(maintainer)
		switch {
		case len(people) != 1:
			fail("Maintainer", "must name exactly one person")
		case people[0].Name == "":
			fail("Maintainer", "must include a name")
		case people[0].Email == nil || !strings.Contains(*people[0].Email, "@"):
			fail("Maintainer", "must include an email address")
		default:
			d.Maintainer = people[0]
		}
	}

	if raw, ok := fields.Get("Date", "Date/Publication"); ok && raw != "" {
		if t, ok := parseDate(raw); ok {
			d.Date = &t
		} else {
			fail("Date", "must be an ISO 8601 date")
		}
	}

	if v, ok := fields.Get("URL"); ok {
		d.URL = ParseURLList(v)
	}
	d.Copyright, _ = fields.Get("Copyright")
	d.Author, _ = fields.Get("Author")
	d.Authors = ParsePersonList(d.Author)

	if v, ok := fields.Get("Depends"); ok {
		d.Depends = ParseDependencyList(v)
	}
	if v, ok := fields.Get("Import", "Imports"); ok {
		d.Imports = ParseDependencyList(v)
	}
	if v, ok := fields.Get("Suggests"); ok {
		d.Suggests = ParseDependencyList(v)
	}
	if v, ok := fields.Get("Enhances"); ok {
		d.Enhances = ParseDependencyList(v)
	}

	if len(errs) > 0 {
		return nil, registry.Validation("decode manifest", errs...)
	}
	return d, nil
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
