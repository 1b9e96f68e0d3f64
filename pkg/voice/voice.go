// Package voice holds the catalogue of Orpheus speaker names.
//
// Orpheus selects a speaker by prefixing the prompt with the voice name, so a
// voice is nothing more than a known string. Unknown names are rejected up
// front, with a phonetic "did you mean" suggestion computed by Double
// Metaphone and ranked by Jaro-Winkler similarity.
package voice

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// Default is the voice used when a request names none.
const Default = "tara"

// ErrUnknown is matched by [*UnknownError].
var ErrUnknown = errors.New("voice: unknown voice")

// minSimilarity is the Jaro-Winkler score a non-phonetic candidate needs to
// be suggested.
const minSimilarity = 0.80

var names = []string{"tara", "leah", "jess", "leo", "dan", "mia", "zac", "zoe"}

// Names returns the supported voices, default first.
func Names() []string { return slices.Clone(names) }

// UnknownError reports a voice that is not in the catalogue.
type UnknownError struct {
	Name       string
	Suggestion string
}

func (e *UnknownError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("voice: unknown voice %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("voice: unknown voice %q; available: %s", e.Name, strings.Join(names, ", "))
}

// Is reports whether target is [ErrUnknown].
func (e *UnknownError) Is(target error) bool { return target == ErrUnknown }

// Resolve normalises name and checks it against the catalogue. An empty name
// resolves to fallback, or to [Default] when fallback is empty too.
func Resolve(name, fallback string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		n = strings.ToLower(strings.TrimSpace(fallback))
	}
	if n == "" {
		return Default, nil
	}
	if slices.Contains(names, n) {
		return n, nil
	}
	return "", &UnknownError{Name: name, Suggestion: Suggest(n)}
}

// Valid reports whether name is a known voice.
func Valid(name string) bool {
	return slices.Contains(names, strings.ToLower(strings.TrimSpace(name)))
}

// Suggest returns the catalogue voice closest to name, or "" when nothing is
// close enough.
func Suggest(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	p, s := matchr.DoubleMetaphone(name)

	best, bestScore := "", 0.0
	for _, v := range names {
		score := matchr.JaroWinkler(name, v, false)
		vp, vs := matchr.DoubleMetaphone(v)
		phonetic := codesOverlap(p, s, vp, vs)
		if !phonetic && score < minSimilarity {
			continue
		}
		if phonetic {
			score += 1 // phonetic matches outrank spelling-only matches
		}
		if score > bestScore {
			best, bestScore = v, score
		}
	}
	return best
}

func codesOverlap(p1, s1, p2, s2 string) bool {
	for _, a := range []string{p1, s1} {
		if a == "" {
			continue
		}
		if a == p2 || a == s2 {
			return true
		}
	}
	return false
}
