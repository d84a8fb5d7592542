// Package version parses and matches hoonpm version expressions.
//
// A spec is one of five variants: a kelvin revision (k414 — lower is newer),
// an exact or abbreviated commit hash, a git tag, a git branch, or a semver
// range. The textual grammar accepts an optional leading "@" and the
// wildcards "latest" and "*".
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind discriminates the spec variants.
type Kind int

const (
	KindKelvin Kind = iota
	KindCommit
	KindTag
	KindBranch
	KindSemver
)

func (k Kind) String() string {
	switch k {
	case KindKelvin:
		return "kelvin"
	case KindCommit:
		return "commit"
	case KindTag:
		return "tag"
	case KindBranch:
		return "branch"
	case KindSemver:
		return "semver"
	default:
		return "unknown"
	}
}

// Spec is a parsed version expression. Immutable once parsed.
type Spec struct {
	kind   Kind
	kelvin uint32
	text   string             // commit hash, tag, or branch name
	rng    *semver.Constraints
	rngRaw string // range as written, for canonical form
}

// Kelvin returns an exact kelvin spec.
func Kelvin(n uint32) Spec { return Spec{kind: KindKelvin, kelvin: n} }

// Commit returns an exact (or prefix) commit spec.
func Commit(hash string) Spec { return Spec{kind: KindCommit, text: hash} }

// Tag returns an exact tag spec.
func Tag(name string) Spec { return Spec{kind: KindTag, text: name} }

// Branch returns a branch spec; resolution always re-queries the remote.
func Branch(name string) Spec { return Spec{kind: KindBranch, text: name} }

// AnyVersion is the wildcard range matching every semver version.
func AnyVersion() Spec {
	s, err := Parse("*")
	if err != nil {
		panic("version: wildcard must parse: " + err.Error())
	}
	return s
}

// Parse parses a version expression.
//
// Accepted forms, tried in order after trimming whitespace and one leading "@":
//
//	latest, *          -> semver wildcard
//	k414, ^k414        -> kelvin 414 (the ^ is accepted but not recorded)
//	commit:abc123      -> commit
//	tag:v1.2.3         -> tag
//	branch:main        -> branch
//	^1.2.0, ~1.2, >=2  -> semver range
func Parse(input string) (Spec, error) {
	in := strings.TrimSpace(input)
	in = strings.TrimPrefix(in, "@")
	if in == "" {
		return Spec{}, fmt.Errorf("VER_PARSE: empty version spec")
	}

	if in == "latest" {
		in = "*"
	}

	kelvinIn := strings.TrimPrefix(in, "^")
	if rest, ok := strings.CutPrefix(kelvinIn, "k"); ok {
		if n, err := strconv.ParseUint(rest, 10, 32); err == nil {
			return Kelvin(uint32(n)), nil
		}
	}

	if rest, ok := strings.CutPrefix(in, "commit:"); ok {
		return Commit(rest), nil
	}
	if rest, ok := strings.CutPrefix(in, "tag:"); ok {
		return Tag(rest), nil
	}
	if rest, ok := strings.CutPrefix(in, "branch:"); ok {
		return Branch(rest), nil
	}

	rng, err := semver.NewConstraint(in)
	if err != nil {
		return Spec{}, fmt.Errorf("VER_PARSE: %q is not a kelvin, commit, tag, branch, or semver range: %w", in, err)
	}
	return Spec{kind: KindSemver, rng: rng, rngRaw: in}, nil
}

// Kind reports which variant this spec is.
func (s Spec) Kind() Kind { return s.kind }

// KelvinValue returns the kelvin revision for KindKelvin specs.
func (s Spec) KelvinValue() uint32 { return s.kelvin }

// Value returns the commit hash, tag, or branch name for those variants.
func (s Spec) Value() string { return s.text }

// Matches reports whether a candidate version string satisfies the spec.
//
// Commit specs match on mutual prefix so abbreviated hashes work in either
// direction. Callers pinning for security must compare full hashes when one
// is available; a short spec can match an unrelated hash sharing its prefix.
// Semver specs strip one leading "v" from the candidate and return false,
// not an error, when the candidate is not parseable as a version.
func (s Spec) Matches(candidate string) bool {
	switch s.kind {
	case KindKelvin:
		rest, ok := strings.CutPrefix(strings.TrimPrefix(candidate, "@"), "k")
		if !ok {
			return false
		}
		n, err := strconv.ParseUint(rest, 10, 32)
		return err == nil && uint32(n) == s.kelvin
	case KindCommit:
		return strings.HasPrefix(candidate, s.text) || strings.HasPrefix(s.text, candidate)
	case KindTag, KindBranch:
		return candidate == s.text || candidate == "@"+s.text
	case KindSemver:
		v, err := semver.NewVersion(strings.TrimPrefix(candidate, "v"))
		if err != nil {
			return false
		}
		return s.rng.Check(v)
	default:
		return false
	}
}

// IsExact reports whether the spec pins a single immutable revision
// (commit or tag), as opposed to a range or mutable ref.
func (s Spec) IsExact() bool {
	return s.kind == KindCommit || s.kind == KindTag
}

// IsWildcard reports whether the spec matches any version ("latest"/"*").
func (s Spec) IsWildcard() bool {
	return s.kind == KindSemver && s.rngRaw == "*"
}

// Canonical returns the normalized text form used in cache keys.
// Re-parsing the result yields an equivalent spec.
func (s Spec) Canonical() string {
	switch s.kind {
	case KindKelvin:
		return fmt.Sprintf("k%d", s.kelvin)
	case KindCommit:
		return "commit:" + s.text
	case KindTag:
		return "tag:" + s.text
	case KindBranch:
		return "branch:" + s.text
	case KindSemver:
		return s.rngRaw
	default:
		return ""
	}
}

func (s Spec) String() string { return s.Canonical() }

// Equal reports spec equivalence. Semver ranges compare by their
// written form, not by the set of versions they admit.
func (s Spec) Equal(o Spec) bool {
	if s.kind != o.kind {
		return false
	}
	if s.kind == KindKelvin {
		return s.kelvin == o.kelvin
	}
	if s.kind == KindSemver {
		return s.rngRaw == o.rngRaw
	}
	return s.text == o.text
}

// ParsePackageSpec splits "name@spec" into a package name and parsed spec.
func ParsePackageSpec(input string) (string, Spec, error) {
	name, rest, ok := strings.Cut(input, "@")
	if !ok || strings.TrimSpace(name) == "" {
		return "", Spec{}, fmt.Errorf("VER_PKG_SPEC: expected name@version, got %q", input)
	}
	spec, err := Parse(rest)
	if err != nil {
		return "", Spec{}, err
	}
	return strings.TrimSpace(name), spec, nil
}
