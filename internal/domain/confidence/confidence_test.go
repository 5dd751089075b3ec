package confidence

import "testing"

func intp(v int) *int { return &v }

func TestFieldPasses(t *testing.T) {
	if !FieldPasses(nil, 80) {
		t.Error("nil confidence must pass; the field was not AI-transcribed")
	}
	if !FieldPasses(intp(80), 80) {
		t.Error("score at the threshold must pass")
	}
	if FieldPasses(intp(79), 80) {
		t.Error("score below the threshold must fail")
	}
}

func TestAggregate(t *testing.T) {
	if Aggregate(nil) != nil {
		t.Error("no scores must aggregate to nil")
	}
	if Aggregate([]*int{nil, nil}) != nil {
		t.Error("all-nil scores must aggregate to nil")
	}

	got := Aggregate([]*int{intp(80), nil, intp(90)})
	if got == nil || *got != 85 {
		t.Fatalf("Aggregate = %v, want 85", got)
	}

	// Rounds to nearest: (70+71)/2 = 70.5 -> 71
	got = Aggregate([]*int{intp(70), intp(71)})
	if got == nil || *got != 71 {
		t.Fatalf("Aggregate = %v, want 71", got)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		score *int
		want  TranscriptionStatus
	}{
		{nil, StatusUnreliable},
		{intp(95), StatusAutoVerified},
		{intp(70), StatusAutoVerified},
		{intp(69), StatusNeedsReview},
		{intp(40), StatusNeedsReview},
		{intp(39), StatusUnreliable},
	}
	for _, tc := range cases {
		if got := Classify(tc.score, 70); got != tc.want {
			t.Errorf("Classify(%v, 70) = %s, want %s", tc.score, got, tc.want)
		}
	}
}
