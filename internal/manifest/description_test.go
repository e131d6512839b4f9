package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkgindex/registry/internal/registry"
)

func validFields() Fields {
	return Fields{
		"PackageName": "ggvis",
		"Title":       "Interactive Grammar of Graphics",
		"Version":     "0.4.3",
		"Maintainer":  "Hadley Wickham <hadley@rstudio.com>",
		"Description": "An implementation of an interactive grammar of graphics.",
		"License":     "GPL-2",
	}
}

func TestDecodeDescription(t *testing.T) {
	fields, err := Parse(sampleDescription)
	require.NoError(t, err)

	d, err := DecodeDescription(fields)
	require.NoError(t, err)

	assert.Equal(t, "ggvis", d.PackageName)
	assert.Equal(t, "0.4.3", d.Version)
	assert.Equal(t, "Hadley Wickham", d.Maintainer.Name)
	assert.Equal(t, "hadley@rstudio.com", *d.Maintainer.Email)
	require.NotNil(t, d.Date)
	assert.Equal(t, time.Date(2016, 7, 21, 0, 0, 0, 0, time.UTC), *d.Date)
	assert.Equal(t, []string{"https://ggvis.rstudio.com/", "https://github.com/rstudio/ggvis"}, d.URL)
	assert.Empty(t, d.Depends, "R itself is not a dependency")
	assert.Equal(t, []string{"assertthat", "jsonlite", "shiny", "magrittr", "dplyr"}, RequirementNames(d.Imports))
	assert.Equal(t, ">= 0.9.11", d.Imports[1].Constraint)
	assert.Len(t, d.Suggests, 5)
	require.Len(t, d.Authors, 3)
	assert.Nil(t, d.Authors[0].Email)
	assert.Equal(t, "hadley@rstudio.com", *d.Authors[1].Email)
}

func TestDecodeDescription_Aliases(t *testing.T) {
	fields := validFields()
	delete(fields, "PackageName")
	fields["Package"] = "ggvis"
	fields["Import"] = "shiny"

	d, err := DecodeDescription(fields)
	require.NoError(t, err)
	assert.Equal(t, "ggvis", d.PackageName)
	assert.Equal(t, "shiny", d.Imports[0].Name)
	assert.Nil(t, d.Date, "absent date stays absent")
}

func TestDecodeDescription_RequiredFields(t *testing.T) {
	for _, field := range []string{"PackageName", "Title", "Version", "Maintainer", "Description", "License"} {
		t.Run(field, func(t *testing.T) {
			fields := validFields()
			delete(fields, field)

			_, err := DecodeDescription(fields)
			require.Error(t, err)
			assert.True(t, registry.IsValidation(err))

			var rerr *registry.Error
			require.ErrorAs(t, err, &rerr)
			assert.Contains(t, rerr.Fields, registry.FieldError{Field: field, Message: "is required"})
		})
	}
}

func TestDecodeDescription_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value string
	}{
		{"maintainer without email", "Maintainer", "Hadley Wickham"},
		{"two maintainers", "Maintainer", "A <a@x.com>, B <b@x.com>"},
		{"maintainer email without at", "Maintainer", "Hadley <nobody>"},
		{"bad date", "Date", "21st of July"},
		{"bad version", "Version", "v1.0"},
		{"bad package name", "PackageName", "1ggvis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := validFields()
			fields[tt.field] = tt.value

			_, err := DecodeDescription(fields)
			var rerr *registry.Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, registry.KindValidation, rerr.Kind)
			require.Len(t, rerr.Fields, 1)
			assert.Equal(t, tt.field, rerr.Fields[0].Field)
		})
	}
}

func TestDecodeDescription_DateLayouts(t *testing.T) {
	for _, raw := range []string{"2016-07-21", "2016-07-21 10:30:00", "2016-07-21T10:30:00Z", "2016-07-21 10:30:00 UTC"} {
		fields := validFields()
		fields["Date"] = raw

		d, err := DecodeDescription(fields)
		require.NoError(t, err, raw)
		assert.Equal(t, 2016, d.Date.Year())
	}
}

func TestParseDependencyList(t *testing.T) {
	reqs := ParseDependencyList("R (>= 3.5.0), methods,utils , stats4(>=1.0), , ")
	assert.Equal(t, []Requirement{
		{Name: "methods"},
		{Name: "utils"},
		{Name: "stats4", Constraint: ">=1.0"},
	}, reqs)

	assert.Empty(t, ParseDependencyList(""))
}

func TestParseURLList(t *testing.T) {
	assert.Equal(t, []string{"https://a", "https://b", "https://c"}, ParseURLList("https://a, https://b\n  https://c"))
	assert.Empty(t, ParseURLList(" "))
}
