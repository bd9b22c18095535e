// Package citykey maps free-text Brazilian place names to the key used to
// join conflict events with city demographics.
package citykey

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Normalizer is a function that normalizes a string value.
type Normalizer func(string) string

const (
	RioDeJaneiro = "RIO DE JANEIRO"
	SaoPaulo     = "SAO PAULO"
)

// metroRules collapse any name containing the metro city onto the city itself.
// Order matters: a string naming both cities resolves to the first rule.
var metroRules = []string{RioDeJaneiro, SaoPaulo}

var unaccentTable = map[rune]rune{
	'á': 'a', 'à': 'a', 'ã': 'a', 'â': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e',
	'í': 'i', 'ì': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'õ': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u',
	'Á': 'A', 'À': 'A', 'Ã': 'A', 'Â': 'A',
	'É': 'E', 'È': 'E', 'Ê': 'E',
	'Í': 'I', 'Ì': 'I',
	'Ó': 'O', 'Ò': 'O', 'Ô': 'O', 'Õ': 'O',
	'Ú': 'U', 'Ù': 'U', 'Û': 'U',
}

var registry = make(map[string]Normalizer)

func init() {
	Register("uppercase", Uppercase)
	Register("unaccent", Unaccent)
	Register("metro", CollapseMetro)
	Register("city_key", Normalize)
}

// Register adds a normalizer to the registry.
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name.
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names leave the value as is.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence.
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Normalize returns the canonical city key for s: upper-cased, stripped of the
// fixed accented-vowel set and collapsed onto Rio de Janeiro or São Paulo
// when either appears in the name.
func Normalize(s string) string {
	return CollapseMetro(Unaccent(Uppercase(s)))
}

// Uppercase upper-cases s using root-locale Unicode casing.
func Uppercase(s string) string {
	// Casers carry state and are not safe for concurrent use.
	return cases.Upper(language.Und).String(s)
}

// Unaccent replaces the accented vowels á à ã â é è ê í ì ó ò ô õ ú ù û and
// their upper-case forms with the unaccented letter of the same case.
// Other runes, ç included, pass through.
func Unaccent(s string) string {
	out, _, err := transform.String(runes.Map(unaccentRune), s)
	if err != nil {
		return s
	}
	return out
}

func unaccentRune(r rune) rune {
	if base, ok := unaccentTable[r]; ok {
		return base
	}
	return r
}

// CollapseMetro applies the metro-area rules to an already upper-cased key.
func CollapseMetro(s string) string {
	for _, metro := range metroRules {
		if strings.Contains(s, metro) {
			return metro
		}
	}
	return s
}
