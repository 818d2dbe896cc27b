// Package signal derives learning signals from failed commitments and
// provides the read-side drilldown aggregation over them.
package signal

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"commitline/internal/domain"
)

// Placeholders used in drilldown keys when the optional dimension is absent.
const (
	NoLocation  = "no_location"
	NoReference = "no_reference"
)

// Cause carries the failure classification supplied by the caller.
type Cause struct {
	Primary   domain.PrimaryCause
	Secondary string
	Notes     string
}

// Validate enforces the classification rule: a primary cause is mandatory
// and Other must be explained in the notes.
func (c Cause) Validate() error {
	if c.Primary == "" {
		return errors.New("primary_cause is required")
	}
	if !c.Primary.Valid() {
		return errors.New("primary_cause must be one of the closed cause set")
	}
	if c.Primary == domain.CauseOther && strings.TrimSpace(c.Notes) == "" {
		return errors.New("notes are required when primary_cause is Other")
	}
	return nil
}

// Generate builds the learning signal for a failed commitment. It is
// deterministic apart from the generated id: the same work item, commitment,
// and cause always produce the same drilldown key. The caller persists the
// signal in the same transaction that fails the commitment.
func Generate(item domain.WorkItem, c domain.Commitment, cause Cause, now time.Time) (domain.LearningSignal, error) {
	if err := cause.Validate(); err != nil {
		return domain.LearningSignal{}, err
	}
	system := ""
	if item.ReferencePlanSystem != nil {
		system = string(*item.ReferencePlanSystem)
	}
	s := domain.LearningSignal{
		ID:           uuid.New().String(),
		WorkItemID:   item.ID,
		CommitmentID: c.ID,
		PrimaryCause: cause.Primary,
		DrilldownKey: DrilldownKey(cause.Primary, item.Location, system),
		CreatedAt:    now.UTC().Format(time.RFC3339),
	}
	if sc := strings.TrimSpace(cause.Secondary); sc != "" {
		s.SecondaryCause = &sc
	}
	if n := strings.TrimSpace(cause.Notes); n != "" {
		s.Notes = &n
	}
	return s, nil
}

// DrilldownKey composes cause|location|system with stable placeholders for
// the optional parts.
func DrilldownKey(cause domain.PrimaryCause, location, system string) string {
	if strings.TrimSpace(location) == "" {
		location = NoLocation
	}
	if strings.TrimSpace(system) == "" {
		system = NoReference
	}
	return strings.Join([]string{string(cause), location, system}, "|")
}

// DrilldownRow is one group in the aggregation.
type DrilldownRow struct {
	Key             string `json:"key"`
	PrimaryCause    string `json:"primary_cause"`
	Location        string `json:"location"`
	ReferenceSystem string `json:"reference_system"`
	Count           int    `json:"count"`
	LatestCreatedAt string `json:"latest_created_at" format:"date-time"`
}

// Aggregate groups signals by drilldown key and counts them. Output order is
// lexicographic on the key so repeated calls over the same data are
// byte-identical. No filtering: every signal is represented.
func Aggregate(signals []domain.LearningSignal) []DrilldownRow {
	groups := map[string]*DrilldownRow{}
	for _, s := range signals {
		row, ok := groups[s.DrilldownKey]
		if !ok {
			cause, location, system := splitKey(s.DrilldownKey)
			row = &DrilldownRow{
				Key:             s.DrilldownKey,
				PrimaryCause:    cause,
				Location:        location,
				ReferenceSystem: system,
			}
			groups[s.DrilldownKey] = row
		}
		row.Count++
		if s.CreatedAt > row.LatestCreatedAt {
			row.LatestCreatedAt = s.CreatedAt
		}
	}
	rows := make([]DrilldownRow, 0, len(groups))
	for _, row := range groups {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows
}

// splitKey recovers the three key parts. Cause and reference system come
// from closed sets that never contain the separator, so the location is
// everything between the first and last one even when it has a "|" itself.
func splitKey(key string) (cause, location, system string) {
	i := strings.Index(key, "|")
	j := strings.LastIndex(key, "|")
	if i < 0 {
		return key, "", ""
	}
	if i == j {
		return key[:i], "", key[i+1:]
	}
	return key[:i], key[i+1 : j], key[j+1:]
}
