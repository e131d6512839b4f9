// Package registry defines the package metadata model shared by ingestion,
// retrieval and the HTTP surface, plus the error kinds they report.
package registry

import (
	"net/url"
	"time"
)

// ReviewableVersion is the reviewable discriminator for reviews of a package version
const ReviewableVersion = "version"

// DependencyKind names the manifest field a dependency was declared in
type DependencyKind string

const (
	DependsOn DependencyKind = "depends"
	Imports   DependencyKind = "imports"
	Suggests  DependencyKind = "suggests"
	Enhances  DependencyKind = "enhances"
)

// DependencyKinds lists the kinds in manifest order
var DependencyKinds = []DependencyKind{DependsOn, Imports, Suggests, Enhances}

// Package is identified by its unique name
type Package struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Collaborator is a person referenced as maintainer or author.
// Identity is the (name, email) pair; Email is nil when the manifest gave none.
type Collaborator struct {
	ID    string  `json:"id,omitempty"`
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
}

// EmailKey returns the stored form of the email, empty when absent
func (c Collaborator) EmailKey() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// Dependency is a package referenced by a version through one of the dependency fields
type Dependency struct {
	PackageID  string         `json:"-"`
	Name       string         `json:"name"`
	Kind       DependencyKind `json:"kind"`
	Constraint string         `json:"constraint,omitempty"`
}

// PackageVersion is the persisted record of one ingested manifest.
// (PackageName, Version) is unique.
type PackageVersion struct {
	ID           string         `json:"id"`
	PackageID    string         `json:"package_id"`
	PackageName  string         `json:"package_name"`
	Version      string         `json:"version"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	ReleaseDate  time.Time      `json:"release_date"`
	License      string         `json:"license"`
	URL          []string       `json:"url,omitempty"`
	Copyright    string         `json:"copyright,omitempty"`
	Author       string         `json:"author,omitempty"`
	MaintainerID string         `json:"maintainer_id"`
	Maintainer   *Collaborator  `json:"maintainer,omitempty"`
	Authors      []Collaborator `json:"authors,omitempty"`
	Depends      []string       `json:"depends,omitempty"`
	Imports      []string       `json:"imports,omitempty"`
	Suggests     []string       `json:"suggests,omitempty"`
	Enhances     []string       `json:"enhances,omitempty"`
	Dependencies []Dependency   `json:"dependencies,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Argument documents one function argument of a topic
type Argument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Topic is a documentation unit attached to a package version.
// (PackageVersionID, Name) is unique.
type Topic struct {
	ID               string     `json:"id"`
	PackageVersionID string     `json:"package_version_id"`
	Name             string     `json:"name"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Usage            string     `json:"usage,omitempty"`
	Details          string     `json:"details,omitempty"`
	Value            string     `json:"value,omitempty"`
	Note             string     `json:"note,omitempty"`
	References       string     `json:"references,omitempty"`
	SeeAlso          string     `json:"seealso,omitempty"`
	Examples         string     `json:"examples,omitempty"`
	Author           string     `json:"author,omitempty"`
	Aliases          []string   `json:"aliases,omitempty"`
	Keywords         []string   `json:"keywords,omitempty"`
	Arguments        []Argument `json:"arguments,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PublicUser is the only part of a user exposed alongside a review
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Review is read-only from the registry's point of view
type Review struct {
	ID        string     `json:"id"`
	Rating    int        `json:"rating"`
	Body      string     `json:"body,omitempty"`
	User      PublicUser `json:"user"`
	CreatedAt time.Time  `json:"created_at"`
}

// VersionRef is a link back to a package version
type VersionRef struct {
	PackageName string `json:"package_name"`
	Version     string `json:"version"`
	URI         string `json:"uri"`
}

// TopicSummary is a topic as embedded in an enriched version
type TopicSummary struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	PackageVersion VersionRef `json:"package_version"`
}

// SiblingVersion is another version of the same package
type SiblingVersion struct {
	Version     string    `json:"version"`
	Title       string    `json:"title"`
	ReleaseDate time.Time `json:"release_date"`
	URI         string    `json:"uri"`
}

// PackageSummary is the owning package with its versions
type PackageSummary struct {
	Name     string           `json:"name"`
	URI      string           `json:"uri"`
	Versions []SiblingVersion `json:"versions"`
}

// DependencyRef is a dependency as embedded in an enriched version
type DependencyRef struct {
	Name       string         `json:"name"`
	Kind       DependencyKind `json:"kind"`
	Constraint string         `json:"constraint,omitempty"`
	URI        string         `json:"uri"`
}

// EnrichedVersion is the retrieval document for one package version.
// Rating is nil when the version has no reviews and is then omitted.
type EnrichedVersion struct {
	URI          string          `json:"uri"`
	PackageURI   string          `json:"package_uri"`
	ID           string          `json:"id"`
	PackageName  string          `json:"package_name"`
	Version      string          `json:"version"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	ReleaseDate  time.Time       `json:"release_date"`
	License      string          `json:"license"`
	URL          []string        `json:"url,omitempty"`
	Copyright    string          `json:"copyright,omitempty"`
	MaintainerID string          `json:"maintainer_id"`
	Maintainer   Collaborator    `json:"maintainer"`
	Authors      []Collaborator  `json:"authors"`
	Dependencies []DependencyRef `json:"dependencies"`
	Package      PackageSummary  `json:"package"`
	Topics       []TopicSummary  `json:"topics"`
	Reviews      []Review        `json:"reviews"`
	Rating       *float64        `json:"rating,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PackageURI returns the path of a package under prefix
func PackageURI(prefix, name string) string {
	return prefix + "/packages/" + url.PathEscape(name)
}

// VersionURI returns the path of a package version under prefix
func VersionURI(prefix, name, version string) string {
	return PackageURI(prefix, name) + "/versions/" + url.PathEscape(version)
}
