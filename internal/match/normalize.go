package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// suffixTokens are dropped from the end of a normalized name. They carry no
// identity ("Chris Evans DJ" and "Chris Evans DJ Services" are one business).
var suffixTokens = map[string]bool{
	"llc": true, "inc": true, "corp": true, "co": true, "ltd": true,
	"pllc": true, "lp": true, "company": true,
	"services": true, "service": true, "entertainment": true,
	"productions": true, "studio": true, "studios": true,
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9 ]+`)

// fold strips diacritics ("Café Lumière" -> "Cafe Lumiere").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName standardizes a business name for comparison:
//  1. Folding diacritics and lowercasing
//  2. Spelling out "&" and dropping apostrophes
//  3. Replacing remaining punctuation with spaces
//  4. Dropping a leading "the" and trailing legal or filler tokens
func NormalizeName(name string) string {
	name = strings.ToLower(fold(strings.TrimSpace(name)))
	if name == "" {
		return ""
	}
	name = strings.NewReplacer("&", " and ", "'", "", "’", "").Replace(name)
	name = nonAlnumRe.ReplaceAllString(name, " ")

	tokens := strings.Fields(name)
	if len(tokens) > 1 && tokens[0] == "the" {
		tokens = tokens[1:]
	}
	for len(tokens) > 1 && suffixTokens[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

var addressAbbrev = map[string]string{
	"street": "st", "avenue": "ave", "boulevard": "blvd", "road": "rd",
	"drive": "dr", "suite": "ste", "lane": "ln", "parkway": "pkwy",
	"highway": "hwy", "north": "n", "south": "s", "east": "e", "west": "w",
}

// NormalizeAddress lowercases, strips punctuation and abbreviates common
// street words so "123 Main Street, Suite 4" matches "123 Main St Ste 4".
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(fold(strings.TrimSpace(addr)))
	if addr == "" {
		return ""
	}
	toks := strings.Fields(nonAlnumRe.ReplaceAllString(addr, " "))
	for i, tok := range toks {
		if abbr, ok := addressAbbrev[tok]; ok {
			toks[i] = abbr
		}
	}
	return strings.Join(toks, " ")
}

// NormalizePhone keeps digits only and drops a leading US country code.
// Returns "" when fewer than 7 digits remain.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < 7 {
		return ""
	}
	return digits
}

// NormalizeTags lowercases tags and splits on separators so Google types
// ("wedding_photographer") and Yelp aliases ("weddingphotography") compare
// at the word level. Duplicates are removed.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, tag := range tags {
		tag = strings.ToLower(fold(tag))
		tag = nonAlnumRe.ReplaceAllString(strings.NewReplacer("_", " ", "-", " ").Replace(tag), " ")
		for _, tok := range strings.Fields(tag) {
			if genericTags[tok] || seen[tok] {
				continue
			}
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// genericTags appear on nearly every listing and carry no signal.
var genericTags = map[string]bool{
	"point": true, "of": true, "interest": true, "establishment": true,
	"and": true, "service": true, "services": true, "store": true,
}

func tokens(s string) []string {
	return strings.Fields(s)
}
