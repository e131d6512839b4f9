package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func strPtr(s string) *string { return &s }

func TestParsePersonList(t *testing.T) {
	tests := []struct {
		name  string
		field string
		want  []Person
	}{
		{
			name:  "angle and paren notations",
			field: "Jane Doe <jane@x.com>, John Roe (john@x.com)",
			want: []Person{
				{Name: "Jane Doe", Email: strPtr("jane@x.com")},
				{Name: "John Roe", Email: strPtr("john@x.com")},
			},
		},
		{
			name:  "bare tag notation",
			field: "Jane Doe <email>jane@x.com</email>",
			want:  []Person{{Name: "Jane Doe", Email: strPtr("jane@x.com")}},
		},
		{
			name:  "no email is absent",
			field: "RStudio",
			want:  []Person{{Name: "RStudio"}},
		},
		{
			name:  "parenthetical without at sign is dropped",
			field: "RStudio (Copyright holder)",
			want:  []Person{{Name: "RStudio"}},
		},
		{
			name:  "role note after name",
			field: "John Roe (ctb), John Roe",
			want:  []Person{{Name: "John Roe"}, {Name: "John Roe"}},
		},
		{
			name:  "note after angle email",
			field: "Jane Doe <jane@x.com> (ORCID 0000)",
			want:  []Person{{Name: "Jane Doe", Email: strPtr("jane@x.com")}},
		},
		{
			name:  "note before paren email",
			field: "Jane Doe (maintainer) (jane@x.com)",
			want:  []Person{{Name: "Jane Doe", Email: strPtr("jane@x.com")}},
		},
		{
			name:  "roles with commas do not split",
			field: "Winston Chang [aut, cre], RStudio [cph]",
			want:  []Person{{Name: "Winston Chang"}, {Name: "RStudio"}},
		},
		{
			name:  "whitespace trimmed",
			field: "   Jane   Doe   <  jane@x.com  >  ,  ",
			want:  []Person{{Name: "Jane Doe", Email: strPtr("jane@x.com")}},
		},
		{
			name:  "duplicates preserved",
			field: "Jane <jane@x.com>, Jane <jane@x.com>",
			want: []Person{
				{Name: "Jane", Email: strPtr("jane@x.com")},
				{Name: "Jane", Email: strPtr("jane@x.com")},
			},
		},
		{
			name:  "empty field",
			field: "",
			want:  []Person{},
		},
		{
			name:  "only separators",
			field: " , ,, ",
			want:  []Person{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePersonList(tt.field))
		})
	}
}

func TestParsePersonList_NotationsAgreeProperty(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(r, "numPeople")
		var angle, paren, tag []string
		var want []Person
		for i := 0; i < n; i++ {
			name := rapid.StringMatching(`[A-Z][a-z]{1,8}( [A-Z][a-z]{1,10})?`).Draw(r, "name")
			email := rapid.StringMatching(`[a-z]{1,8}@[a-z]{1,8}\.(com|org)`).Draw(r, "email")
			angle = append(angle, name+" <"+email+">")
			paren = append(paren, name+" ("+email+")")
			tag = append(tag, name+" <email>"+email+"</email>")
			want = append(want, Person{Name: name, Email: strPtr(email)})
		}

		for _, field := range []string{strings.Join(angle, ", "), strings.Join(paren, ", "), strings.Join(tag, ", ")} {
			got := ParsePersonList(field)
			if len(got) != len(want) {
				r.Fatalf("%q: expected %d people, got %d", field, len(want), len(got))
			}
			for i := range want {
				if got[i].Name != want[i].Name || got[i].Email == nil || *got[i].Email != *want[i].Email {
					r.Fatalf("%q: entry %d mismatch: %+v", field, i, got[i])
				}
			}
		}
	})
}
