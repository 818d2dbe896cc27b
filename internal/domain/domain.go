package domain

// WorkItemState is one of the six allowed lifecycle states. No other
// values are legal anywhere in the system.
type WorkItemState string

const (
	StateIntent    WorkItemState = "Intent"
	StateNotReady  WorkItemState = "Not Ready"
	StateReady     WorkItemState = "Ready"
	StateCommitted WorkItemState = "Committed"
	StateComplete  WorkItemState = "Complete"
	StateFailed    WorkItemState = "Failed"
)

// Valid reports whether s is one of the six allowed states.
func (s WorkItemState) Valid() bool {
	switch s {
	case StateIntent, StateNotReady, StateReady, StateCommitted, StateComplete, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a commitment cycle. Terminal items can
// only leave their state via an explicit reset to Intent.
func (s WorkItemState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// ConstraintStatus is binary: a constraint is Open or Cleared, nothing else.
type ConstraintStatus string

const (
	ConstraintOpen    ConstraintStatus = "Open"
	ConstraintCleared ConstraintStatus = "Cleared"
)

func (s ConstraintStatus) Valid() bool {
	return s == ConstraintOpen || s == ConstraintCleared
}

// CommitmentStatus tracks a commitment from Active to exactly one terminal
// outcome.
type CommitmentStatus string

const (
	CommitmentActive   CommitmentStatus = "Active"
	CommitmentComplete CommitmentStatus = "Complete"
	CommitmentFailed   CommitmentStatus = "Failed"
)

func (s CommitmentStatus) Valid() bool {
	return s == CommitmentActive || s == CommitmentComplete || s == CommitmentFailed
}

// PrimaryCause classifies why a commitment failed. The set is closed:
// free-form causes are not accepted, and Other requires a note.
type PrimaryCause string

const (
	CauseAccess           PrimaryCause = "Access"
	CauseMaterials        PrimaryCause = "Materials"
	CauseInformation      PrimaryCause = "Information"
	CauseResources        PrimaryCause = "Resources"
	CausePermits          PrimaryCause = "Permits"
	CausePlantOrEquipment PrimaryCause = "Plant or equipment"
	CauseInterfaces       PrimaryCause = "Interfaces"
	CauseWeather          PrimaryCause = "Weather"
	CauseOther            PrimaryCause = "Other"
)

// PrimaryCauses lists the closed cause set in declaration order.
func PrimaryCauses() []PrimaryCause {
	return []PrimaryCause{
		CauseAccess, CauseMaterials, CauseInformation, CauseResources,
		CausePermits, CausePlantOrEquipment, CauseInterfaces, CauseWeather,
		CauseOther,
	}
}

func (c PrimaryCause) Valid() bool {
	for _, v := range PrimaryCauses() {
		if c == v {
			return true
		}
	}
	return false
}

// ReferencePlanSystem names an external scheduling system. The reference is
// display-only and never feeds readiness or transition logic.
type ReferencePlanSystem string

const (
	PlanSystemMSP   ReferencePlanSystem = "MSP"
	PlanSystemP6    ReferencePlanSystem = "P6"
	PlanSystemOther ReferencePlanSystem = "Other"
)

func (s ReferencePlanSystem) Valid() bool {
	return s == PlanSystemMSP || s == PlanSystemP6 || s == PlanSystemOther
}

// WorkItem is a unit of production work. State is owned exclusively by the
// engine; Version is the optimistic-concurrency token checked on every
// mutation.
type WorkItem struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	OwnerUserID string        `json:"owner_user_id"`
	State       WorkItemState `json:"state" enum:"Intent,Not Ready,Ready,Committed,Complete,Failed"`

	ReferencePlanSystem     *ReferencePlanSystem `json:"reference_plan_system,omitempty" enum:"MSP,P6,Other"`
	ReferencePlanExternalID *string              `json:"reference_plan_external_id,omitempty"`
	ReferencePlanDatesJSON  *string              `json:"reference_plan_dates_json,omitempty"`

	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Constraint blocks readiness until cleared. ClearedByUserID and ClearedAt
// are set iff Status is Cleared.
type Constraint struct {
	ID              string           `json:"id"`
	WorkItemID      string           `json:"work_item_id"`
	Type            string           `json:"type"`
	Description     string           `json:"description,omitempty"`
	Status          ConstraintStatus `json:"status" enum:"Open,Cleared"`
	ClearedByUserID *string          `json:"cleared_by_user_id,omitempty"`
	ClearedAt       *string          `json:"cleared_at,omitempty" format:"date-time"`
	CreatedAt       string           `json:"created_at" format:"date-time"`
}

// Commitment is a promise to deliver a work item by DueAt. WorkItemID,
// CommittedByUserID, OwnerUserID, and DueAt are immutable once written.
type Commitment struct {
	ID                string           `json:"id"`
	WorkItemID        string           `json:"work_item_id"`
	CommittedByUserID string           `json:"committed_by_user_id"`
	OwnerUserID       string           `json:"owner_user_id"`
	DueAt             string           `json:"due_at" format:"date-time"`
	Status            CommitmentStatus `json:"status" enum:"Active,Complete,Failed"`
	CreatedAt         string           `json:"created_at" format:"date-time"`
	CompletedAt       *string          `json:"completed_at,omitempty" format:"date-time"`
	FailedAt          *string          `json:"failed_at,omitempty" format:"date-time"`
}

// LearningSignal is the blame-free record created for every failed
// commitment, exactly once, immutable after creation.
type LearningSignal struct {
	ID             string       `json:"id"`
	WorkItemID     string       `json:"work_item_id"`
	CommitmentID   string       `json:"commitment_id"`
	PrimaryCause   PrimaryCause `json:"primary_cause"`
	SecondaryCause *string      `json:"secondary_cause,omitempty"`
	Notes          *string      `json:"notes,omitempty"`
	DrilldownKey   string       `json:"drilldown_key"`
	CreatedAt      string       `json:"created_at" format:"date-time"`
}

// AuditEvent is an append-only fact. Rows are never updated or deleted;
// ordering is (ts, id) and monotonic per entity.
type AuditEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey maps a hashed key to an actor for request attribution.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
