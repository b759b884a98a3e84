// Package report defines the P3 forensic medical report skeleton and the
// mapper that pre-fills it from a clinical fact set.
//
// The report is a fixed nested structure. Automated mapping only ever
// pre-fills history and examination fields; clinical judgment fields keep
// their sentinel defaults and ClinicianReviewRequired starts true and is
// never cleared by this code — only a human reviewer may clear it.
package report

import (
	"github.com/njia-health/njia/internal/facts"
)

// ConsistencyPending is the sentinel carried by
// ClinicalOpinion.ConsistencyWithHistory until a clinician replaces it. The
// pipeline never infers consistency.
const ConsistencyPending = "To be determined by clinician"

// FacilityDetails identifies where and when the examination took place.
// Only ExamDate is machine-filled; facility and examiner come from the
// clinician.
type FacilityDetails struct {
	FacilityName *string `json:"facility_name"`
	ExaminerName *string `json:"examiner_name"`
	ExamDate     *string `json:"exam_date"`
}

// HistoryOfAssault carries the testimony-derived assault history. Timing,
// mechanism, and repeated-assault values pass through from the fact set
// unchanged, absence included.
type HistoryOfAssault struct {
	Timing          facts.Value `json:"timing"`
	Mechanism       facts.Value `json:"mechanism"`
	RepeatedAssault facts.Value `json:"repeated_assault"`

	// DrugFacilitatedSuspected is the binary collapse of the richer
	// drug_facilitated_indicators field: always "yes" or "no".
	DrugFacilitatedSuspected string `json:"drug_facilitated_suspected"`
}

// PhysicalExamination carries observed-injury fields coerced to sequences.
type PhysicalExamination struct {
	InjuriesObserved  []string    `json:"injuries_observed"`
	InjuryLocations   []string    `json:"injury_locations"`
	InjuryAgeEstimate facts.Value `json:"injury_age_estimate"`
}

// ClinicalOpinion is never machine-filled. ConsistencyWithHistory starts at
// the ConsistencyPending sentinel; DegreeOfForce starts empty.
type ClinicalOpinion struct {
	ConsistencyWithHistory string  `json:"consistency_with_history"`
	DegreeOfForce          *string `json:"degree_of_force"`
}

// Report is the structured P3 report skeleton pre-filled from clinical
// facts. It requires mandatory human clinician review before finalization.
type Report struct {
	CaseID                    string              `json:"case_id"`
	FacilityDetails           FacilityDetails     `json:"facility_details"`
	SurvivorStatementSummary  *string             `json:"survivor_statement_summary"`
	HistoryOfAssault          HistoryOfAssault    `json:"history_of_assault"`
	PhysicalExamination       PhysicalExamination `json:"physical_examination"`
	ClinicalOpinion           ClinicalOpinion     `json:"clinical_opinion"`
	LimitationsAndUncertainty []string            `json:"limitations_and_uncertainty"`
	ClinicianReviewRequired   bool                `json:"clinician_review_required"`
}

// Empty returns the blank report skeleton: all sections present, sentinel
// defaults in place, review flag raised.
func Empty(caseID string) Report {
	return Report{
		CaseID: caseID,
		ClinicalOpinion: ClinicalOpinion{
			ConsistencyWithHistory: ConsistencyPending,
		},
		PhysicalExamination: PhysicalExamination{
			InjuriesObserved: []string{},
			InjuryLocations:  []string{},
		},
		LimitationsAndUncertainty: []string{},
		ClinicianReviewRequired:   true,
	}
}
