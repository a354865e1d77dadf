package classifier

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"

	"github.com/soundprediction/strata/pkg/utils"
)

var relationshipVocabulary = []string{
	"depends on", "depend on", "depending on", "dependent on", "dependency", "dependencies",
	"affects", "affect", "affected by", "impacts", "impact", "impacted by",
	"who owns", "owned by", "owner of", "owns",
	"reports to", "report to", "reporting to",
	"complies with", "comply with", "compliant with",
	"authored by", "written by",
	"supersedes", "superseded by", "replaced by",
	"part of", "upstream", "downstream",
	"mentions", "cites", "cited by",
}

var (
	wordPattern   = regexp.MustCompile(`[\p{L}\p{N}]+(?:[-_./][\p{L}\p{N}]+)*`)
	quotedPattern = regexp.MustCompile("\"([^\"]+)\"|“([^”]+)”|`([^`]+)`")
)

// stopWords are never entry hints even when capitalized.
var stopWords = map[string]struct{}{
	"what": {}, "which": {}, "who": {}, "whom": {}, "whose": {}, "how": {}, "why": {},
	"when": {}, "where": {}, "is": {}, "are": {}, "was": {}, "were": {}, "does": {},
	"do": {}, "did": {}, "can": {}, "could": {}, "should": {}, "would": {}, "will": {},
	"the": {}, "a": {}, "an": {}, "our": {}, "we": {}, "i": {}, "if": {}, "and": {},
	"or": {}, "list": {}, "show": {}, "tell": {}, "give": {}, "find": {}, "explain": {},
	"please": {}, "any": {}, "all": {}, "in": {}, "on": {}, "for": {}, "of": {},
}

var ambiguousWords = map[string]struct{}{
	"it": {}, "its": {}, "they": {}, "them": {}, "their": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "he": {}, "she": {}, "him": {}, "her": {},
	"something": {}, "stuff": {}, "thing": {}, "things": {}, "whatever": {},
	"somehow": {}, "anything": {}, "everything": {}, "various": {}, "etc": {},
}

type analysis struct {
	lower     string
	words     []string
	wordCount int
	hints     []string
}

func analyze(query string) analysis {
	words := utils.Words(query)
	a := analysis{
		lower: " " + strings.Join(words, " ") + " ",
		words: words,
	}

	var nerHints []string
	doc, err := prose.NewDocument(query, prose.WithSegmentation(false))
	if err == nil {
		for _, tok := range doc.Tokens() {
			if hasLetterOrDigit(tok.Text) {
				a.wordCount++
			}
		}
		for _, ent := range doc.Entities() {
			if _, stop := stopWords[strings.ToLower(ent.Text)]; stop || !hasUpper(ent.Text) {
				continue
			}
			nerHints = append(nerHints, ent.Text)
		}
	} else {
		a.wordCount = len(words)
	}

	hints := quotedHints(query)
	hints = append(hints, capitalizedSpans(query)...)
	hints = append(hints, nerHints...)
	a.hints = dedupeHints(hints)
	return a
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func quotedHints(query string) []string {
	var out []string
	for _, m := range quotedPattern.FindAllStringSubmatch(query, -1) {
		for _, g := range m[1:] {
			if g = strings.TrimSpace(g); g != "" {
				out = append(out, g)
			}
		}
	}
	return out
}

// capitalizedSpans returns runs of adjacent entity-like words: capitalized
// words, and compound tokens mixing letters and digits such as "postgres-16".
func capitalizedSpans(query string) []string {
	var out, span []string
	lastEnd := -1
	flush := func() {
		if len(span) > 0 {
			out = append(out, strings.Join(span, " "))
			span = nil
		}
	}
	for _, loc := range wordPattern.FindAllStringIndex(query, -1) {
		tok := query[loc[0]:loc[1]]
		_, stop := stopWords[strings.ToLower(tok)]
		if stop || !entityLike(tok) {
			flush()
			lastEnd = loc[1]
			continue
		}
		if len(span) > 0 && strings.TrimSpace(query[lastEnd:loc[0]]) != "" {
			flush()
		}
		span = append(span, tok)
		lastEnd = loc[1]
	}
	flush()
	return out
}

func entityLike(tok string) bool {
	first := []rune(tok)[0]
	if unicode.IsUpper(first) {
		return true
	}
	if !strings.ContainsAny(tok, "-_./") {
		return false
	}
	var letter, digit bool
	for _, r := range tok {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsNumber(r):
			digit = true
		}
	}
	return letter && digit
}

// dedupeHints drops repeats and hints contained in a longer hint, keeping
// first-appearance order.
func dedupeHints(hints []string) []string {
	normalized := make([]string, len(hints))
	for i, h := range hints {
		normalized[i] = " " + strings.Join(utils.Words(h), " ") + " "
	}
	seen := make(map[string]struct{})
	var out []string
	for i, h := range hints {
		n := normalized[i]
		if strings.TrimSpace(n) == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		contained := false
		for j, other := range normalized {
			if j != i && len(other) > len(n) && strings.Contains(other, n) {
				contained = true
				break
			}
		}
		if contained {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, strings.TrimSpace(h))
	}
	return out
}

func matchVocabulary(lower string, vocabulary []string) []string {
	var out []string
	for _, phrase := range vocabulary {
		if strings.Contains(lower, " "+phrase+" ") {
			out = append(out, phrase)
		}
	}
	return out
}

var deepQuestionPhrases = []string{
	"what happens if", "what would happen", "what if", "compare", "difference between",
	"trade off", "root cause", "impact of",
}

// questionWeight scores the question type: causal and comparative questions
// weigh most, lookups and yes/no questions least.
func questionWeight(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	joined := " " + strings.Join(words, " ") + " "
	for _, p := range deepQuestionPhrases {
		if strings.Contains(joined, " "+p+" ") {
			return 1.0
		}
	}
	switch words[0] {
	case "why", "how":
		return 0.7
	case "which", "who", "whom", "whose":
		return 0.5
	case "what", "when", "where":
		return 0.3
	case "is", "are", "does", "do", "did", "can", "should", "will", "was", "were":
		return 0.2
	default:
		return 0.4
	}
}

func ambiguity(words []string) float64 {
	n := 0
	for _, w := range words {
		if _, ok := ambiguousWords[w]; ok {
			n++
		}
	}
	return minFloat(1, float64(n)/3)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
