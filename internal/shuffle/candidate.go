package shuffle

import (
	"strconv"

	"github.com/google/uuid"
)

// CandidateKey is the (candidate, assessment) pair every ordering is derived from.
func CandidateKey(candidateID int, assessmentID uuid.UUID) []string {
	return []string{strconv.Itoa(candidateID), assessmentID.String()}
}

// ForCandidate shuffles items for one candidate in one assessment.
func ForCandidate[T any](e *Engine, candidateID int, assessmentID uuid.UUID, items []T) []T {
	return Apply(e, items, CandidateKey(candidateID, assessmentID)...)
}

// ForCandidateWithin shuffles items nested under scope, e.g. the options of one question,
// so equal-length lists do not all receive the same permutation.
func ForCandidateWithin[T any](e *Engine, candidateID int, assessmentID uuid.UUID, scope string, items []T) []T {
	return Apply(e, items, append(CandidateKey(candidateID, assessmentID), scope)...)
}
