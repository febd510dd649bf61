package crew

import (
	"sort"
	"strings"
	"unicode"
)

const (
	minTokenLen         = 3
	sharedStemLen       = 5
	prefixStemLen       = 4
	capabilityWeight    = 1.0
	expertiseAreaWeight = 2.0
)

// FitScore measures how well agent suits task. Each description token adds
// the capability weight when it matches a capability word and the expertise
// weight when it matches an expertise word; the sum is scaled by the agent's
// performance score.
func FitScore(agent *Agent, task *Task) float64 {
	tokens := Tokenize(task.Description)
	if len(tokens) == 0 {
		return 0
	}
	capWords := capabilityWords(agent.Role)
	expWords := expertiseWords(agent.Role)
	var raw float64
	for _, tok := range tokens {
		if matchesAny(tok, capWords) {
			raw += capabilityWeight
		}
		if matchesAny(tok, expWords) {
			raw += expertiseAreaWeight
		}
	}
	return raw * agent.PerformanceScore()
}

// Rank orders agent indices by descending FitScore, ties by lower index.
func Rank(agents []*Agent, task *Task) []int {
	scores := make([]float64, len(agents))
	order := make([]int, len(agents))
	for i, a := range agents {
		scores[i] = FitScore(a, task)
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	return order
}

// Best returns the index of the best-fitting agent, or -1 for no agents.
func Best(agents []*Agent, task *Task) int {
	best, bestScore := -1, -1.0
	for i, a := range agents {
		if s := FitScore(a, task); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// MatchedCapabilities lists the capabilities whose name or description
// matches a token of the task description.
func MatchedCapabilities(agent *Agent, task *Task) []Capability {
	tokens := Tokenize(task.Description)
	var out []Capability
	for _, c := range agent.Role.Capabilities {
		words := append(Tokenize(c.Name), Tokenize(c.Description)...)
		for _, tok := range tokens {
			if matchesAny(tok, words) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Tokenize lower-cases s and splits it into alphanumeric words of at least
// three runes.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= minTokenLen {
			out = append(out, f)
		}
	}
	return out
}

func capabilityWords(r Role) []string {
	var words []string
	for _, c := range r.Capabilities {
		words = append(words, Tokenize(c.Name)...)
		words = append(words, Tokenize(c.Description)...)
	}
	return words
}

func expertiseWords(r Role) []string {
	var words []string
	for _, e := range r.ExpertiseAreas {
		words = append(words, Tokenize(e)...)
	}
	return words
}

func matchesAny(tok string, words []string) bool {
	for _, w := range words {
		if tokensMatch(tok, w) {
			return true
		}
	}
	return false
}

// tokensMatch treats words as equal when identical, when they share a stem of
// sharedStemLen runes, or when the shorter (of at least prefixStemLen runes)
// prefixes the longer. "analyze" and "analysis" match; "art" and "article" do
// not.
func tokensMatch(a, b string) bool {
	if a == b {
		return true
	}
	ra, rb := []rune(a), []rune(b)
	common := 0
	for common < len(ra) && common < len(rb) && ra[common] == rb[common] {
		common++
	}
	if common >= sharedStemLen {
		return true
	}
	shorter := min(len(ra), len(rb))
	return shorter >= prefixStemLen && common == shorter
}
