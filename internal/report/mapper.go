package report

import (
	"time"

	"github.com/njia-health/njia/internal/facts"
)

const examDateLayout = "2006-01-02"

// Mapper deterministically fills a report skeleton from a fact set. The same
// fact set always produces the same report apart from the exam date, which
// is injectable for tests.
type Mapper struct {
	now func() time.Time
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithClock overrides the wall clock used for the exam date.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) {
		m.now = now
	}
}

// NewMapper creates a Mapper with an optional clock override.
func NewMapper(opts ...Option) *Mapper {
	m := &Mapper{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map pre-fills the P3 skeleton for caseID from the given fact set. Every
// fact field has a total mapping policy, so Map cannot fail: absent facts
// stay absent (or collapse to their documented defaults) rather than being
// invented.
func (m *Mapper) Map(caseID string, f facts.Set) Report {
	r := Empty(caseID)

	date := m.now().Format(examDateLayout)
	r.FacilityDetails.ExamDate = &date

	r.HistoryOfAssault.Timing = f.TimingOfAssault
	r.HistoryOfAssault.Mechanism = f.MechanismOfInjury
	r.HistoryOfAssault.RepeatedAssault = f.RepeatedAssault
	r.HistoryOfAssault.DrugFacilitatedSuspected = collapseDrugFacilitated(f.DrugFacilitatedIndicators)

	r.PhysicalExamination.InjuriesObserved = f.InjuryType.AsList()
	r.PhysicalExamination.InjuryLocations = f.BodyLocation.AsList()
	r.PhysicalExamination.InjuryAgeEstimate = f.InjuryColorOrStage

	r.LimitationsAndUncertainty = f.SurvivorUncertaintyNotes.AsList()

	return r
}

// collapseDrugFacilitated reduces the indicators field to a binary flag.
// The collapse is asymmetric on purpose: any substantive indicator raises
// suspicion, while absence, emptiness, or an explicit "no" does not. An
// uncertain value like "unclear" therefore maps to "yes" — flagging for
// review is preferred over silently dropping a possible indicator.
func collapseDrugFacilitated(v facts.Value) string {
	switch {
	case v.IsAbsent():
		return "no"
	case v.Kind() == facts.KindString:
		s := v.Str()
		if s == "" || s == "no" {
			return "no"
		}
		return "yes"
	default:
		if len(v.AsList()) == 0 {
			return "no"
		}
		return "yes"
	}
}
