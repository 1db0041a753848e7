package server

import (
	"specline/internal/domain"
	"specline/internal/graph"
	"specline/internal/specid"
)

// Request payloads

type TransitionRequest struct {
	Status string `json:"status" doc:"Target status"`
	Force  bool   `json:"force,omitempty" doc:"Skip the transition table; requires spec.force"`
	Reason string `json:"reason,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type SpecResponse struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Type          string            `json:"type,omitempty"`
	Status        domain.Status     `json:"status"`
	DisplayStatus domain.Status     `json:"display_status"`
	DependsOn     []string          `json:"depends_on"`
	Labels        []string          `json:"labels,omitempty"`
	TargetFiles   []string          `json:"target_files,omitempty"`
	Commits       []string          `json:"commits,omitempty"`
	Branch        string            `json:"branch,omitempty"`
	CompletedAt   string            `json:"completed_at,omitempty"`
	Model         string            `json:"model,omitempty"`
	Archived      bool              `json:"archived,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
	Body          string            `json:"body,omitempty"`
}

type BlockersResponse struct {
	ID       string          `json:"id"`
	Ready    bool            `json:"ready"`
	Blockers []graph.Blocker `json:"blockers"`
}

type CyclesResponse struct {
	Cycles [][]string `json:"cycles"`
}

type OrderResponse struct {
	Order []string `json:"order"`
}

type ResolveResponse struct {
	Dependency string        `json:"dependency"`
	Found      bool          `json:"found"`
	Archived   bool          `json:"archived,omitempty"`
	Spec       *SpecResponse `json:"spec,omitempty"`
}

type IDResponse struct {
	ID       string `json:"id"`
	Repo     string `json:"repo,omitempty"`
	Project  string `json:"project,omitempty"`
	Base     string `json:"base"`
	Date     string `json:"date,omitempty"`
	Sequence string `json:"sequence,omitempty"`
	Suffix   string `json:"suffix,omitempty"`
	Members  []int  `json:"members,omitempty"`
	DriverID string `json:"driver_id,omitempty"`
}

type EventResponse struct {
	Seq     int64  `json:"seq"`
	ID      string `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	SpecID  string `json:"spec_id,omitempty"`
	Actor   string `json:"actor"`
	Payload string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func specResponse(spec *domain.Spec, display domain.Status, withBody bool) SpecResponse {
	out := SpecResponse{
		ID:            spec.ID,
		Title:         spec.Title(),
		Type:          spec.Type,
		Status:        spec.Status,
		DisplayStatus: display,
		DependsOn:     nonNilSlice(spec.DependsOn),
		Labels:        spec.Labels,
		TargetFiles:   spec.TargetFiles,
		Commits:       spec.Commits,
		Branch:        spec.Branch,
		CompletedAt:   spec.CompletedAt,
		Model:         spec.Model,
	}
	if len(spec.Extra) > 0 {
		out.Extra = make(map[string]string, len(spec.Extra))
		for _, f := range spec.Extra {
			out.Extra[f.Key] = f.Value.Value
		}
	}
	if withBody {
		out.Body = spec.Body
	}
	return out
}

func idResponse(id specid.ID) IDResponse {
	out := IDResponse{
		ID:      id.String(),
		Repo:    id.Repo,
		Project: id.Project,
		Base:    id.Base,
		Members: id.Members,
	}
	if date, seq, suffix, ok := id.Parts(); ok {
		out.Date, out.Sequence, out.Suffix = date, seq, suffix
	}
	if driver, ok := specid.DriverOf(out.ID); ok {
		out.DriverID = driver
	}
	return out
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		Seq:     evt.Seq,
		ID:      evt.ID,
		TS:      evt.TS,
		Type:    evt.Type,
		SpecID:  evt.SpecID,
		Actor:   evt.Actor,
		Payload: evt.Payload,
	}
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
