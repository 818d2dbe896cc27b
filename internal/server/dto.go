package server

import (
	"commitline/internal/domain"
	"commitline/internal/signal"
)

// Requests.

type CreateWorkItemRequest struct {
	Title                   string  `json:"title" example:"Pour slab zone A"`
	Description             *string `json:"description,omitempty"`
	Location                *string `json:"location,omitempty" example:"Zone A / Level 2"`
	OwnerUserID             string  `json:"owner_user_id" example:"foreman-7"`
	ReferencePlanSystem     *string `json:"reference_plan_system,omitempty" enum:"MSP,P6,Other"`
	ReferencePlanExternalID *string `json:"reference_plan_external_id,omitempty"`
	ReferencePlanDates      any     `json:"reference_plan_dates,omitempty"`
}

type CreateConstraintRequest struct {
	Type        string  `json:"type" example:"Materials"`
	Description *string `json:"description,omitempty"`
}

type CreateCommitmentRequest struct {
	OwnerUserID *string `json:"owner_user_id,omitempty"`
	DueAt       string  `json:"due_at" example:"2026-03-06T17:00:00Z"`
}

type FailCommitmentRequest struct {
	PrimaryCause   string  `json:"primary_cause" example:"Materials"`
	SecondaryCause *string `json:"secondary_cause,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

type ModifyCommitmentRequest struct {
	DueAt       *string `json:"due_at,omitempty"`
	OwnerUserID *string `json:"owner_user_id,omitempty"`
	WorkItemID  *string `json:"work_item_id,omitempty"`
}

// Responses.

type WorkItemResponse struct {
	ID                      string  `json:"id"`
	Title                   string  `json:"title"`
	Description             string  `json:"description,omitempty"`
	Location                string  `json:"location,omitempty"`
	OwnerUserID             string  `json:"owner_user_id"`
	State                   string  `json:"state"`
	ReferencePlanSystem     *string `json:"reference_plan_system,omitempty"`
	ReferencePlanExternalID *string `json:"reference_plan_external_id,omitempty"`
	Version                 int64   `json:"version"`
	CreatedAt               string  `json:"created_at"`
	UpdatedAt               string  `json:"updated_at"`
}

type WorkItemDetailResponse struct {
	WorkItemResponse
	Constraints []ConstraintResponse `json:"constraints"`
	Commitments []CommitmentResponse `json:"commitments"`
}

type ConstraintResponse struct {
	ID              string  `json:"id"`
	WorkItemID      string  `json:"work_item_id"`
	Type            string  `json:"type"`
	Description     string  `json:"description,omitempty"`
	Status          string  `json:"status"`
	ClearedByUserID *string `json:"cleared_by_user_id,omitempty"`
	ClearedAt       *string `json:"cleared_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

type CommitmentResponse struct {
	ID                string  `json:"id"`
	WorkItemID        string  `json:"work_item_id"`
	CommittedByUserID string  `json:"committed_by_user_id"`
	OwnerUserID       string  `json:"owner_user_id"`
	DueAt             string  `json:"due_at"`
	Status            string  `json:"status"`
	CreatedAt         string  `json:"created_at"`
	CompletedAt       *string `json:"completed_at,omitempty"`
	FailedAt          *string `json:"failed_at,omitempty"`
}

type LearningSignalResponse struct {
	ID             string  `json:"id"`
	WorkItemID     string  `json:"work_item_id"`
	CommitmentID   string  `json:"commitment_id"`
	PrimaryCause   string  `json:"primary_cause"`
	SecondaryCause *string `json:"secondary_cause,omitempty"`
	Notes          *string `json:"notes,omitempty"`
	DrilldownKey   string  `json:"drilldown_key"`
	CreatedAt      string  `json:"created_at"`
}

type DrilldownRowResponse struct {
	Key             string `json:"key"`
	PrimaryCause    string `json:"primary_cause"`
	Location        string `json:"location"`
	ReferenceSystem string `json:"reference_system"`
	Count           int    `json:"count"`
	LatestCreatedAt string `json:"latest_created_at"`
}

type AuditEventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload,omitempty"`
}

type StatusResponse struct {
	ProjectID  string         `json:"project_id"`
	StateCount map[string]int `json:"state_counts"`
}

func workItemResponse(w domain.WorkItem) WorkItemResponse {
	resp := WorkItemResponse{
		ID:                      w.ID,
		Title:                   w.Title,
		Description:             w.Description,
		Location:                w.Location,
		OwnerUserID:             w.OwnerUserID,
		State:                   string(w.State),
		ReferencePlanExternalID: w.ReferencePlanExternalID,
		Version:                 w.Version,
		CreatedAt:               w.CreatedAt,
		UpdatedAt:               w.UpdatedAt,
	}
	if w.ReferencePlanSystem != nil {
		s := string(*w.ReferencePlanSystem)
		resp.ReferencePlanSystem = &s
	}
	return resp
}

func mapWorkItems(items []domain.WorkItem) []WorkItemResponse {
	out := []WorkItemResponse{}
	for _, w := range items {
		out = append(out, workItemResponse(w))
	}
	return out
}

func constraintResponse(c domain.Constraint) ConstraintResponse {
	return ConstraintResponse{
		ID:              c.ID,
		WorkItemID:      c.WorkItemID,
		Type:            c.Type,
		Description:     c.Description,
		Status:          string(c.Status),
		ClearedByUserID: c.ClearedByUserID,
		ClearedAt:       c.ClearedAt,
		CreatedAt:       c.CreatedAt,
	}
}

func mapConstraints(items []domain.Constraint) []ConstraintResponse {
	out := []ConstraintResponse{}
	for _, c := range items {
		out = append(out, constraintResponse(c))
	}
	return out
}

func commitmentResponse(c domain.Commitment) CommitmentResponse {
	return CommitmentResponse{
		ID:                c.ID,
		WorkItemID:        c.WorkItemID,
		CommittedByUserID: c.CommittedByUserID,
		OwnerUserID:       c.OwnerUserID,
		DueAt:             c.DueAt,
		Status:            string(c.Status),
		CreatedAt:         c.CreatedAt,
		CompletedAt:       c.CompletedAt,
		FailedAt:          c.FailedAt,
	}
}

func mapCommitments(items []domain.Commitment) []CommitmentResponse {
	out := []CommitmentResponse{}
	for _, c := range items {
		out = append(out, commitmentResponse(c))
	}
	return out
}

func signalResponse(s domain.LearningSignal) LearningSignalResponse {
	return LearningSignalResponse{
		ID:             s.ID,
		WorkItemID:     s.WorkItemID,
		CommitmentID:   s.CommitmentID,
		PrimaryCause:   string(s.PrimaryCause),
		SecondaryCause: s.SecondaryCause,
		Notes:          s.Notes,
		DrilldownKey:   s.DrilldownKey,
		CreatedAt:      s.CreatedAt,
	}
}

func mapSignals(items []domain.LearningSignal) []LearningSignalResponse {
	out := []LearningSignalResponse{}
	for _, s := range items {
		out = append(out, signalResponse(s))
	}
	return out
}

func mapDrilldown(rows []signal.DrilldownRow) []DrilldownRowResponse {
	out := []DrilldownRowResponse{}
	for _, r := range rows {
		out = append(out, DrilldownRowResponse{
			Key:             r.Key,
			PrimaryCause:    r.PrimaryCause,
			Location:        r.Location,
			ReferenceSystem: r.ReferenceSystem,
			Count:           r.Count,
			LatestCreatedAt: r.LatestCreatedAt,
		})
	}
	return out
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
