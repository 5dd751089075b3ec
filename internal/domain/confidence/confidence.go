// Package confidence converts per-field extraction confidence into pass/fail
// judgments and aggregate scores. Pure functions, no dependencies.
package confidence

// TranscriptionStatus classifies the overall quality of an AI transcription.
type TranscriptionStatus string

const (
	StatusAutoVerified TranscriptionStatus = "auto_verified"
	StatusNeedsReview  TranscriptionStatus = "needs_review"
	StatusUnreliable   TranscriptionStatus = "unreliable"
)

// FieldPasses reports whether a single field's confidence clears the
// threshold. A nil confidence means the extractor gave no score for the
// field; it passes, because the field was not AI-transcribed.
func FieldPasses(conf *int, threshold int) bool {
	return conf == nil || *conf >= threshold
}

// Aggregate computes the mean of the present per-field scores across items,
// rounded to the nearest integer. Returns nil when no item carries a score.
func Aggregate(scores []*int) *int {
	sum, n := 0, 0
	for _, s := range scores {
		if s != nil {
			sum += *s
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := (sum + n/2) / n
	return &avg
}

// Classify maps an aggregate score to a transcription status. Scores at or
// above reviewThreshold are auto-verified, scores within 30 points below it
// need human review, the rest are unreliable. A nil score is always
// unreliable.
func Classify(score *int, reviewThreshold int) TranscriptionStatus {
	if score == nil {
		return StatusUnreliable
	}
	switch {
	case *score >= reviewThreshold:
		return StatusAutoVerified
	case *score >= reviewThreshold-30:
		return StatusNeedsReview
	default:
		return StatusUnreliable
	}
}
