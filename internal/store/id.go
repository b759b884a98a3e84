package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewCaseID generates a case identifier of the form NJ-YYYY-XXX, where YYYY
// is the current year and XXX is a short random suffix. The suffix is drawn
// from a random UUID, so IDs are not guessable from each other; collisions
// are caught by [Store.Add] returning [ErrDuplicateID].
func NewCaseID(now time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:3])
	return fmt.Sprintf("NJ-%d-%s", now.Year(), suffix)
}
