package lexical

import (
	"reflect"
	"testing"
)

func TestSentimentEmptyTextIsNeutral(t *testing.T) {
	if got := Sentiment(""); got != 0 {
		t.Fatalf("expected 0 for empty text, got %f", got)
	}
	if got := Sentiment("   \n\t  "); got != 0 {
		t.Fatalf("expected 0 for whitespace text, got %f", got)
	}
}

func TestSentimentPositiveText(t *testing.T) {
	got := Sentiment("I feel great today")
	if got <= 0.2 {
		t.Fatalf("expected clearly positive score, got %f", got)
	}
}

func TestSentimentNegativeText(t *testing.T) {
	got := Sentiment("I am so sad and lonely, everything feels hopeless")
	if got >= -0.2 {
		t.Fatalf("expected clearly negative score, got %f", got)
	}
}

func TestSentimentNegationFlipsPolarity(t *testing.T) {
	positive := Sentiment("I am good")
	negated := Sentiment("I am not good")
	if negated >= positive {
		t.Fatalf("negation should lower the score: %f vs %f", negated, positive)
	}
	if negated >= 0 {
		t.Fatalf("expected negated positive to score below zero, got %f", negated)
	}
}

func TestSentimentStaysInRange(t *testing.T) {
	got := Sentiment("extremely amazing wonderful fantastic excellent best")
	if got < -1 || got > 1 {
		t.Fatalf("score out of [-1,1]: %f", got)
	}
}

func TestSentimentDeterministic(t *testing.T) {
	text := "work has been stressful but I am hopeful things improve"
	first := Sentiment(text)
	for i := 0; i < 5; i++ {
		if got := Sentiment(text); got != first {
			t.Fatalf("non-deterministic score: %f vs %f", got, first)
		}
	}
}

func TestTopKeywordsEmptyText(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		if got := TopKeywords("", n); len(got) != 0 {
			t.Fatalf("expected empty keywords for n=%d, got %v", n, got)
		}
	}
}

func TestTopKeywordsFrequencyAndTieBreak(t *testing.T) {
	got := TopKeywords("the the the sadness sadness happy", 2)
	want := []string{"sadness", "happy"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected keywords: got %v want %v", got, want)
	}
}

func TestTopKeywordsExcludesShortAndStopWords(t *testing.T) {
	got := TopKeywords("a cat sat on the mat with my work work", 5)
	want := []string{"work"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected keywords: got %v want %v", got, want)
	}
}

func TestTopKeywordsCapsAtN(t *testing.T) {
	got := TopKeywords("alpha beta gamma delta epsilon zeta", 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 keywords, got %v", got)
	}
	// all same frequency: first-occurrence order wins
	want := []string{"alpha", "beta", "gamma"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected keyword order: got %v want %v", got, want)
	}
}

func TestTopKeywordsLowercasesAndStripsPunctuation(t *testing.T) {
	got := TopKeywords("Sleep! SLEEP, sleep? Exercise.", 2)
	want := []string{"sleep", "exercise"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected keywords: got %v want %v", got, want)
	}
}
