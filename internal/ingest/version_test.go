package ingest_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/pkgindex/registry/internal/ingest"
	"github.com/pkgindex/registry/internal/registry"
	"github.com/pkgindex/registry/internal/store"
	"github.com/pkgindex/registry/internal/testutil"
)

func setupIngestors(t *testing.T) (*sql.DB, *ingest.VersionIngestor, *ingest.TopicIngestor) {
	t.Helper()
	db := testutil.OpenDB(t)
	mgr := store.NewManager(db, store.ReadCommitted)
	return db, ingest.NewVersionIngestor(mgr, nil, nil), ingest.NewTopicIngestor(mgr, nil, nil)
}

func TestVersionIngestor_Create(t *testing.T) {
	db, versions, _ := setupIngestors(t)
	ctx := context.Background()

	raw := testutil.Manifest("ggvis", "0.1",
		"URL: https://ggvis.rstudio.com, https://github.com/rstudio/ggvis",
		"Depends: R (>= 3.0.0)",
		"Imports: assertthat, jsonlite (>= 0.9.11), shiny (>= 0.10.0), magrittr, dplyr (>= 0.2),",
		"    lazyeval",
		"Suggests: knitr, testthat (>= 0.8.1)",
	)

	v, err := versions.Create(ctx, ingest.ManifestInput{Raw: raw})
	require.NoError(t, err)

	assert.Equal(t, "ggvis", v.PackageName)
	assert.Equal(t, "0.1", v.Version)
	assert.Equal(t, "GPL-2", v.License)
	assert.True(t, time.Date(2014, 6, 15, 0, 0, 0, 0, time.UTC).Equal(v.ReleaseDate))
	assert.Equal(t, []string{"https://ggvis.rstudio.com", "https://github.com/rstudio/ggvis"}, v.URL)
	assert.Empty(t, v.Depends, "the R runtime is not a package")
	assert.Equal(t, []string{"assertthat", "jsonlite", "shiny", "magrittr", "dplyr", "lazyeval"}, v.Imports)
	assert.Equal(t, []string{"knitr", "testthat"}, v.Suggests)

	require.NotNil(t, v.Maintainer)
	assert.Equal(t, "Winston Chang", v.Maintainer.Name)
	assert.Equal(t, "winston@rstudio.com", *v.Maintainer.Email)
	require.Len(t, v.Authors, 2)
	assert.Equal(t, v.Maintainer.ID, v.Authors[0].ID, "the maintainer listed as author resolves to one collaborator")
	assert.Nil(t, v.Authors[1].Email)

	require.Len(t, v.Dependencies, 8)
	assert.Equal(t, registry.Dependency{PackageID: v.Dependencies[1].PackageID, Name: "jsonlite", Kind: registry.Imports, Constraint: ">= 0.9.11"}, v.Dependencies[1])

	// ggvis plus eight dependency packages, two collaborators
	assert.Equal(t, 9, testutil.CountRows(t, db, "packages"))
	assert.Equal(t, 2, testutil.CountRows(t, db, "collaborators"))
	assert.Equal(t, 2, testutil.CountRows(t, db, "version_authors"))
	assert.Equal(t, 8, testutil.CountRows(t, db, "version_dependencies"))
}

func TestVersionIngestor_CreateFromFields(t *testing.T) {
	_, versions, _ := setupIngestors(t)

	v, err := versions.Create(context.Background(), ingest.ManifestInput{Fields: map[string]any{
		"PackageName": "dplyr",
		"Title":       "A Grammar of Data Manipulation",
		"Version":     "0.4.3",
		"Maintainer":  "Hadley Wickham <email>hadley@rstudio.com</email>",
		"Description": "A fast, consistent tool for working with data frame like objects.",
		"License":     "MIT + file LICENSE",
		"Author":      []any{"Hadley Wickham [aut, cre]", "Romain Francois (romain@r-enthusiasts.com) [aut]"},
	}})
	require.NoError(t, err)

	assert.Equal(t, "hadley@rstudio.com", *v.Maintainer.Email)
	require.Len(t, v.Authors, 2)
	assert.Equal(t, "Hadley Wickham", v.Authors[0].Name)
	assert.Nil(t, v.Authors[0].Email, "a name without email is a different collaborator from the maintainer")
	assert.Equal(t, "romain@r-enthusiasts.com", *v.Authors[1].Email)
	assert.WithinDuration(t, time.Now(), v.ReleaseDate, time.Minute, "release date defaults to ingestion time")
}

func TestVersionIngestor_DuplicateIsConflict(t *testing.T) {
	db, versions, _ := setupIngestors(t)
	ctx := context.Background()
	raw := testutil.Manifest("ggvis", "0.1")

	_, err := versions.Create(ctx, ingest.ManifestInput{Raw: raw})
	require.NoError(t, err)

	_, err = versions.Create(ctx, ingest.ManifestInput{Raw: testutil.Manifest("ggvis", "0.1", "Suggests: knitr")})
	require.Error(t, err)
	assert.True(t, registry.IsConflict(err))

	var regErr *registry.Error
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, map[string]string{"package_name": "ggvis", "version": "0.1"}, regErr.Identity)

	n, err := store.CountVersions(ctx, db, "ggvis", "0.1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, testutil.CountRows(t, db, "packages"), "the conflicting attempt must not leave knitr behind")
}

func TestVersionIngestor_MissingRequiredField(t *testing.T) {
	required := []string{"Package", "Title", "Version", "Maintainer", "Description", "License"}

	for _, field := range required {
		t.Run(field, func(t *testing.T) {
			db, versions, _ := setupIngestors(t)

			var lines []string
			for _, line := range strings.Split(strings.TrimSpace(testutil.Manifest("ggvis", "0.1")), "\n") {
				if !strings.HasPrefix(line, field+":") {
					lines = append(lines, line)
				}
			}

			_, err := versions.Create(context.Background(), ingest.ManifestInput{Raw: strings.Join(lines, "\n")})
			require.Error(t, err)
			assert.True(t, registry.IsValidation(err), "got %v", err)
			assert.Equal(t, 0, testutil.CountRows(t, db, "package_versions"))
			assert.Equal(t, 0, testutil.CountRows(t, db, "packages"))
			assert.Equal(t, 0, testutil.CountRows(t, db, "collaborators"))
		})
	}
}

func TestVersionIngestor_Malformed(t *testing.T) {
	_, versions, _ := setupIngestors(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input ingest.ManifestInput
	}{
		{"empty input", ingest.ManifestInput{}},
		{"block syntax", ingest.ManifestInput{Raw: "Package ggvis\nVersion: 0.1\n"}},
		{"maintainer without email", ingest.ManifestInput{Raw: strings.Replace(testutil.Manifest("ggvis", "0.1"),
			"Maintainer: Winston Chang <winston@rstudio.com>", "Maintainer: Winston Chang", 1)}},
		{"bad version", ingest.ManifestInput{Raw: testutil.Manifest("ggvis", "one")}},
		{"unsupported field type", ingest.ManifestInput{Fields: map[string]any{"Title": map[string]any{}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := versions.Create(ctx, tt.input)
			require.Error(t, err)
			assert.True(t, registry.IsValidation(err), "got %v", err)
		})
	}
}

func TestVersionIngestor_ConcurrentSameVersion(t *testing.T) {
	db, versions, _ := setupIngestors(t)
	ctx := context.Background()

	for trial := 0; trial < 10; trial++ {
		version := fmt.Sprintf("1.%d", trial)
		raw := testutil.Manifest("ggvis", version, "Imports: dplyr, shiny")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = versions.Create(ctx, ingest.ManifestInput{Raw: raw})
			}(i)
		}
		wg.Wait()

		successes, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case registry.IsConflict(err):
				conflicts++
			default:
				t.Fatalf("trial %d: unexpected error: %v", trial, err)
			}
		}
		assert.Equal(t, 1, successes, "trial %d", trial)
		assert.Equal(t, 1, conflicts, "trial %d", trial)

		n, err := store.CountVersions(ctx, db, "ggvis", version)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	assert.Equal(t, 3, testutil.CountRows(t, db, "packages"))
}

func TestVersionIngestor_RoundTripProperty(t *testing.T) {
	_, versions, _ := setupIngestors(t)
	ctx := context.Background()
	seq := 0

	rapid.Check(t, func(rt *rapid.T) {
		seq++
		name := rapid.StringMatching(`[A-Za-z][A-Za-z0-9.]{0,10}`).Draw(rt, "name") + fmt.Sprintf("x%d", seq)
		version := rapid.StringMatching(`[0-9]{1,3}([.-][0-9]{1,3}){0,3}`).Draw(rt, "version")

		v, err := versions.Create(ctx, ingest.ManifestInput{Raw: testutil.Manifest(name, version)})
		if err != nil {
			rt.Fatalf("create %s %s: %v", name, version, err)
		}
		if v.PackageName != name || v.Version != version {
			rt.Fatalf("got %s %s, want %s %s", v.PackageName, v.Version, name, version)
		}
	})
}
