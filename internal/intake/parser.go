// Package intake converts OCR output into structured prescription items.
package intake

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// OCRLine is one extracted text line with the recognizer's 0-1 confidence.
type OCRLine struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ParsedMedication is one medication extracted from OCR lines, with per-field
// confidences scaled 0-100.
type ParsedMedication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`

	NameConfidence      int `json:"nameConfidence"`
	DosageConfidence    int `json:"dosageConfidence"`
	FrequencyConfidence int `json:"frequencyConfidence"`
}

var (
	dosageRe    = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(mg|mcg|ml|g|units?|iu)\b`)
	frequencyRe = regexp.MustCompile(`(?i)\b(once|twice|thrice|three times|four times|\d+\s*times?)\s*(a|per)?\s*(day|daily)\b|\b(daily|bid|tid|qid|od)\b|\bevery\s+\d+\s*(hours|hrs|h)\b`)
	durationRe  = regexp.MustCompile(`(?i)\b(for\s+)?(\d+\s*(days?|weeks?|months?)|chronic|ongoing|long[- ]term)\b`)
	// Medication names lead the line: a capitalized or alphabetic token run
	// before the first dosage token.
	nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z\- ]{2,}`)
)

// Match-quality factors applied to the line confidence. An explicit regex
// match is trusted more than a leading-token guess.
const (
	strongMatchFactor = 1.0
	weakMatchFactor   = 0.7
)

// Parser extracts medications from OCR text.
type Parser struct {
	logger *zap.Logger
}

// NewParser creates a parser.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse scans each line for a medication entry. A line qualifies when it
// contains at least a name candidate and one of dosage or frequency; header
// and footer lines fall through silently.
func (p *Parser) Parse(lines []OCRLine) []ParsedMedication {
	var meds []ParsedMedication
	for _, line := range lines {
		if med, ok := p.parseLine(line); ok {
			meds = append(meds, med)
		}
	}
	p.logger.Debug("intake parse complete",
		zap.Int("lines", len(lines)),
		zap.Int("medications", len(meds)))
	return meds
}

func (p *Parser) parseLine(line OCRLine) (ParsedMedication, bool) {
	text := strings.TrimSpace(line.Text)
	if text == "" {
		return ParsedMedication{}, false
	}

	med := ParsedMedication{}
	base := line.Confidence
	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}

	if m := dosageRe.FindString(text); m != "" {
		med.Dosage = strings.TrimSpace(m)
		med.DosageConfidence = scale(base, strongMatchFactor)
	}
	if m := frequencyRe.FindString(text); m != "" {
		med.Frequency = strings.TrimSpace(m)
		med.FrequencyConfidence = scale(base, strongMatchFactor)
	}
	if m := durationRe.FindString(text); m != "" {
		med.Duration = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(m), "for "))
	}

	name := p.extractName(text)
	if name == "" {
		return ParsedMedication{}, false
	}
	med.Name = name
	if dosageRe.MatchString(text) {
		// Name tokens adjacent to a recognized dosage are a strong signal
		med.NameConfidence = scale(base, strongMatchFactor)
	} else {
		med.NameConfidence = scale(base, weakMatchFactor)
	}

	if med.Dosage == "" && med.Frequency == "" {
		return ParsedMedication{}, false
	}
	return med, true
}

// extractName takes the token run before the first dosage or frequency
// match, stripped of trailing connective words.
func (p *Parser) extractName(text string) string {
	candidate := text
	cut := len(text)
	if loc := dosageRe.FindStringIndex(text); loc != nil && loc[0] < cut {
		cut = loc[0]
	}
	if loc := frequencyRe.FindStringIndex(text); loc != nil && loc[0] < cut {
		cut = loc[0]
	}
	candidate = text[:cut]
	m := nameRe.FindString(strings.TrimSpace(candidate))
	m = strings.TrimSpace(m)
	m = strings.TrimSuffix(m, "-")
	for _, suffix := range []string{" take", " tab", " tabs", " cap", " caps"} {
		if strings.HasSuffix(strings.ToLower(m), suffix) {
			m = m[:len(m)-len(suffix)]
		}
	}
	if len(m) < 3 {
		return ""
	}
	return strings.TrimSpace(m)
}

// scale converts a 0-1 line confidence to a 0-100 field confidence.
func scale(base, factor float64) int {
	v := int(base*factor*100 + 0.5)
	if v > 100 {
		v = 100
	}
	if v < 0 {
		v = 0
	}
	return v
}
