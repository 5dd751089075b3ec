package treatmentplan

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/domain/prescription"
)

// Generation defaults when item text cannot be parsed.
const (
	defaultDurationDays = 30
	chronicDurationDays = 90
	defaultTimesPerDay  = 1
	refillLeadDays      = 7
)

// Fixed clock-time slots per times-per-day tier.
var doseSlots = map[int][]string{
	1: {"08:00"},
	2: {"08:00", "20:00"},
	3: {"08:00", "14:00", "20:00"},
	4: {"08:00", "12:00", "16:00", "20:00"},
}

// Generator derives a treatment plan from an approved prescription.
type Generator struct {
	refillLead int
	logger     *zap.Logger
}

// NewGenerator creates a generator. refillLeadDays controls how long before
// the plan end the refill-due date lands; zero uses the default.
func NewGenerator(refillLead int, logger *zap.Logger) *Generator {
	if refillLead <= 0 {
		refillLead = refillLeadDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{refillLead: refillLead, logger: logger}
}

// Generate builds the plan for an approved prescription with at least one
// item. The plan window runs from today through the longest item duration;
// total planned doses sum each item's times-per-day across its own duration.
func (g *Generator) Generate(p *prescription.Prescription) (*Plan, error) {
	if p.Status != prescription.StatusApproved {
		return nil, ErrNotApproved
	}
	if len(p.Items) == 0 {
		return nil, ErrNoItems
	}

	start := time.Now().UTC().Truncate(24 * time.Hour)
	maxDays := 0
	totalDoses := 0
	schedules := make([]MedicationSchedule, 0, len(p.Items))

	for _, it := range p.Items {
		timesPerDay := g.parseFrequency(it.Frequency, it.MedicationName)
		days := g.parseDuration(it.Duration, it.MedicationName)
		if days > maxDays {
			maxDays = days
		}
		planned := timesPerDay * days
		totalDoses += planned

		schedules = append(schedules, MedicationSchedule{
			MedicationName: it.MedicationName,
			Dosage:         it.Dosage,
			TimesPerDay:    timesPerDay,
			ClockTimes:     doseSlots[timesPerDay],
			DurationDays:   days,
			PlannedDoses:   planned,
		})
	}

	end := start.AddDate(0, 0, maxDays)
	now := time.Now().UTC()

	return &Plan{
		ID:             uuid.New().String(),
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		StartDate:      start,
		EndDate:        end,
		Schedules:      schedules,
		TotalDoses:     totalDoses,
		RefillDueDate:  end.AddDate(0, 0, -g.refillLead),
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

var everyNHoursRe = regexp.MustCompile(`every\s+(\d+)\s*(?:hours|hrs|h)\b`)
var durationRe = regexp.MustCompile(`(\d+)\s*(day|days|week|weeks|month|months)`)

// parseFrequency converts common frequency phrasings to times per day.
// Unparseable text defaults to once daily with a logged warning.
func (g *Generator) parseFrequency(freq, medication string) int {
	f := strings.ToLower(strings.TrimSpace(freq))
	switch {
	case f == "":
		// fall through to warning below
	case strings.Contains(f, "twice"), strings.Contains(f, "2 times"),
		hasToken(f, "bid"), strings.Contains(f, "b.i.d"):
		return 2
	case strings.Contains(f, "three times"), strings.Contains(f, "3 times"),
		strings.Contains(f, "thrice"), hasToken(f, "tid"), strings.Contains(f, "t.i.d"):
		return 3
	case strings.Contains(f, "four times"), strings.Contains(f, "4 times"),
		hasToken(f, "qid"), strings.Contains(f, "q.i.d"):
		return 4
	case strings.Contains(f, "once") && strings.Contains(f, "da"),
		strings.Contains(f, "1 time"), hasToken(f, "od"), hasToken(f, "qd"),
		strings.Contains(f, "daily") && !strings.Contains(f, "every"):
		return 1
	default:
		if m := everyNHoursRe.FindStringSubmatch(f); m != nil {
			hours, err := strconv.Atoi(m[1])
			if err == nil && hours > 0 {
				times := 24 / hours
				if times < 1 {
					times = 1
				}
				if times > 4 {
					times = 4
				}
				return times
			}
		}
	}

	g.logger.Warn("unparseable frequency, defaulting to once daily",
		zap.String("frequency", freq),
		zap.String("medication", medication))
	return defaultTimesPerDay
}

// hasToken reports whether f contains tok as a standalone word. Dosing
// abbreviations like "od" occur inside ordinary words ("food"), so substring
// matching is not safe for them.
func hasToken(f, tok string) bool {
	for _, w := range strings.FieldsFunc(f, func(r rune) bool {
		return r < 'a' || r > 'z'
	}) {
		if w == tok {
			return true
		}
	}
	return false
}

// parseDuration converts duration text to a day count. Chronic/ongoing
// phrasing maps to 90 days; unparseable text defaults to 30 days with a
// logged warning.
func (g *Generator) parseDuration(duration, medication string) int {
	d := strings.ToLower(strings.TrimSpace(duration))
	if d == "" {
		g.logger.Warn("missing duration, defaulting to 30 days",
			zap.String("medication", medication))
		return defaultDurationDays
	}
	if strings.Contains(d, "chronic") || strings.Contains(d, "ongoing") ||
		strings.Contains(d, "long term") || strings.Contains(d, "long-term") {
		return chronicDurationDays
	}
	if m := durationRe.FindStringSubmatch(d); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			switch {
			case strings.HasPrefix(m[2], "day"):
				return n
			case strings.HasPrefix(m[2], "week"):
				return n * 7
			case strings.HasPrefix(m[2], "month"):
				return n * 30
			}
		}
	}

	g.logger.Warn("unparseable duration, defaulting to 30 days",
		zap.String("duration", duration),
		zap.String("medication", medication))
	return defaultDurationDays
}
