// Package lexical provides bag-of-words sentiment scoring and keyword
// extraction over raw chat text. Scores are deterministic: the same input
// always yields the same polarity and topic list.
package lexical

import (
	"sort"
	"strings"
	"unicode"
)

// stopWords are excluded from topic extraction.
var stopWords = map[string]struct{}{
	"i": {}, "me": {}, "my": {}, "myself": {}, "we": {}, "our": {}, "ours": {},
	"ourselves": {}, "you": {}, "you're": {}, "you've": {}, "you'll": {},
	"you'd": {}, "your": {}, "yours": {}, "yourself": {}, "yourselves": {},
	"he": {}, "him": {}, "his": {}, "himself": {}, "she": {}, "she's": {},
	"her": {}, "hers": {}, "herself": {}, "it": {}, "it's": {}, "its": {},
	"itself": {}, "they": {}, "them": {}, "their": {}, "theirs": {},
	"themselves": {}, "what": {}, "which": {}, "who": {}, "whom": {},
	"this": {}, "that": {}, "that'll": {}, "these": {}, "those": {}, "am": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"being": {}, "have": {}, "has": {}, "had": {}, "having": {}, "do": {},
	"does": {}, "did": {}, "doing": {}, "a": {}, "an": {}, "the": {},
	"and": {}, "but": {}, "if": {}, "or": {}, "because": {}, "as": {},
	"until": {}, "while": {}, "of": {}, "at": {}, "by": {}, "for": {},
	"with": {}, "about": {}, "against": {}, "between": {}, "into": {},
	"through": {}, "during": {}, "before": {}, "after": {}, "above": {},
	"below": {}, "to": {}, "from": {}, "up": {}, "down": {}, "in": {},
	"out": {}, "on": {}, "off": {}, "over": {}, "under": {}, "again": {},
	"further": {}, "then": {}, "once": {},
}

// polarityLexicon maps affect-bearing words to a polarity weight in [-1, 1].
var polarityLexicon = map[string]float64{
	// positive
	"good": 0.6, "great": 0.8, "awesome": 0.9, "amazing": 0.9, "excellent": 0.9,
	"wonderful": 0.9, "fantastic": 0.9, "love": 0.8, "loved": 0.8, "like": 0.4,
	"happy": 0.8, "happier": 0.8, "happiness": 0.8, "glad": 0.7, "joy": 0.8,
	"joyful": 0.8, "excited": 0.7, "exciting": 0.7, "hopeful": 0.6, "hope": 0.4,
	"better": 0.5, "best": 0.9, "calm": 0.4, "relaxed": 0.5, "relieved": 0.6,
	"grateful": 0.7, "thankful": 0.7, "thanks": 0.5, "thank": 0.5, "proud": 0.7,
	"confident": 0.6, "motivated": 0.6, "energized": 0.6, "peaceful": 0.6,
	"optimistic": 0.7, "supported": 0.5, "comforted": 0.5, "safe": 0.4,
	"fine": 0.3, "okay": 0.2, "well": 0.3, "nice": 0.5, "enjoy": 0.6,
	"enjoyed": 0.6, "improving": 0.5, "improved": 0.5, "progress": 0.4,

	// negative
	"bad": -0.6, "terrible": -0.9, "awful": -0.9, "horrible": -0.9,
	"worst": -0.9, "worse": -0.6, "sad": -0.8, "sadness": -0.8, "unhappy": -0.7,
	"depressed": -0.9, "depressing": -0.8, "depression": -0.8, "miserable": -0.9,
	"cry": -0.6, "crying": -0.6, "hurt": -0.6, "pain": -0.6, "painful": -0.7,
	"lonely": -0.7, "alone": -0.4, "anxious": -0.7, "anxiety": -0.7,
	"worried": -0.6, "worry": -0.5, "afraid": -0.6, "scared": -0.6,
	"fear": -0.6, "angry": -0.7, "anger": -0.7, "furious": -0.9, "mad": -0.6,
	"annoyed": -0.5, "frustrated": -0.6, "frustrating": -0.6, "stressed": -0.7,
	"stress": -0.5, "overwhelmed": -0.7, "tired": -0.4, "exhausted": -0.6,
	"hopeless": -0.9, "helpless": -0.8, "worthless": -0.9, "guilty": -0.6,
	"ashamed": -0.7, "hate": -0.8, "hated": -0.8, "upset": -0.6, "down": -0.3,
	"struggling": -0.6, "struggle": -0.5, "difficult": -0.4, "hard": -0.3,
	"failed": -0.6, "failure": -0.7, "sick": -0.5, "empty": -0.5, "numb": -0.5,
}

// negators flip the polarity of the word that follows them.
var negators = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "dont": {}, "don't": {}, "cant": {},
	"can't": {}, "cannot": {}, "isnt": {}, "isn't": {}, "wasnt": {},
	"wasn't": {}, "wont": {}, "won't": {}, "didnt": {}, "didn't": {},
	"hardly": {}, "barely": {},
}

// intensifiers scale the polarity of the word that follows them.
var intensifiers = map[string]float64{
	"very": 1.3, "really": 1.3, "so": 1.2, "extremely": 1.5, "incredibly": 1.5,
	"totally": 1.3, "completely": 1.4, "deeply": 1.3, "quite": 1.1,
	"slightly": 0.6, "somewhat": 0.7, "bit": 0.7, "little": 0.7,
}

// Sentiment scores the polarity of text in [-1, 1]. Empty or affect-free
// text yields 0 (neutral), never an error. The score is the mean polarity of
// matched lexicon words, adjusted for a preceding negator or intensifier.
func Sentiment(text string) float64 {
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var sum float64
	matched := 0
	for i, word := range words {
		weight, ok := polarityLexicon[word]
		if !ok {
			continue
		}

		if i > 0 {
			prev := words[i-1]
			if _, neg := negators[prev]; neg {
				weight *= -0.5
			} else if scale, ok := intensifiers[prev]; ok {
				weight *= scale
			}
		}

		sum += weight
		matched++
	}

	if matched == 0 {
		return 0
	}

	score := sum / float64(matched)
	return clamp(score)
}

// TopKeywords returns up to n keywords ordered by descending frequency, with
// first-occurrence order breaking ties. Stop words and tokens of length <= 3
// are excluded.
func TopKeywords(text string, n int) []string {
	if n <= 0 {
		return []string{}
	}

	type entry struct {
		word  string
		count int
		first int
	}

	counts := make(map[string]*entry)
	order := make([]*entry, 0, 16)
	for i, word := range tokenize(text) {
		if len(word) <= 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if strings.ContainsRune(word, '\'') {
			// topics are plain alphanumeric tokens; contractions the stop
			// list missed are not useful keywords
			continue
		}
		e, ok := counts[word]
		if !ok {
			e = &entry{word: word, first: i}
			counts[word] = e
			order = append(order, e)
		}
		e.count++
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	if n > len(order) {
		n = len(order)
	}
	keywords := make([]string, 0, n)
	for _, e := range order[:n] {
		keywords = append(keywords, e.word)
	}
	return keywords
}

// tokenize lowercases text, strips punctuation except intra-word apostrophes,
// and splits on whitespace.
func tokenize(text string) []string {
	normalized := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'':
			return r
		default:
			return ' '
		}
	}, text)

	fields := strings.Fields(normalized)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

func clamp(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
