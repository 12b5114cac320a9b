// Package wire defines the JSON request/response bodies exchanged between
// the runner supervisor and the gateway over HTTP. Keeping these in the
// shared module gives both binaries one schema to agree on instead of each
// hand-maintaining the other's contract — the dynamic-JSON ingress the
// source system relied on is replaced with these explicit types end to end.
package wire

import "time"

// CreateRunRequest is the body of POST /api/runs.
type CreateRunRequest struct {
	Command     string         `json:"command,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	WorkingDir  string         `json:"workingDir,omitempty"`
	Autonomous  bool           `json:"autonomous,omitempty"`
	WorkerType  string         `json:"workerType"`
	Model       string         `json:"model,omitempty"`
}

// CreateRunResponse is returned once from POST /api/runs; CapabilityToken is
// shown here and nowhere else.
type CreateRunResponse struct {
	ID              string `json:"id"`
	CapabilityToken string `json:"capabilityToken"`
	Status          string `json:"status"`
	Autonomous      bool   `json:"autonomous"`
}

// RunSummary is the list/get representation of a run (capability token and
// raw metadata blob never included).
type RunSummary struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Command    string         `json:"command,omitempty"`
	WorkerType string         `json:"workerType"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ClientID   string         `json:"clientId,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	ExitCode   *int           `json:"exitCode,omitempty"`
}

// RunDetail extends RunSummary with the artifact list shown on the run page.
type RunDetail struct {
	RunSummary
	Artifacts []ArtifactSummary `json:"artifacts"`
}

// ListRunsResponse is the body of GET /api/runs.
type ListRunsResponse struct {
	Runs    []RunSummary `json:"runs"`
	Total   int          `json:"total"`
	HasMore bool         `json:"hasMore"`
}

// EventDTO is one entry in an events page or WebSocket fan-out frame.
type EventDTO struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"runId"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	Sequence  int       `json:"sequence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendEventRequest is the body of POST /api/ingest/event.
type AppendEventRequest struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	Sequence int    `json:"sequence,omitempty"`
}

// ListEventsResponse is the body of GET /api/runs/:id/events.
type ListEventsResponse struct {
	Events  []EventDTO `json:"events"`
	HasMore bool       `json:"hasMore"`
}

// EnqueueCommandRequest is the body of POST /api/runs/:id/command.
type EnqueueCommandRequest struct {
	Command string `json:"command"`
}

// InputRequest is the body of POST /api/runs/:id/input.
type InputRequest struct {
	Text   string `json:"text"`
	Escape bool   `json:"escape,omitempty"`
}

// RestartRequest is the body of POST /api/runs/:id/restart.
type RestartRequest struct {
	CommandOverride    string `json:"commandOverride,omitempty"`
	WorkingDirOverride string `json:"workingDirOverride,omitempty"`
}

// RestartResponse carries the newly created run id.
type RestartResponse struct {
	RunID string `json:"runId"`
}

// CommandDTO is one pending command returned by GET /api/runs/:id/commands.
type CommandDTO struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	Command   string    `json:"command"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListCommandsResponse is the body of GET /api/runs/:id/commands.
type ListCommandsResponse struct {
	Commands []CommandDTO `json:"commands"`
}

// AckCommandRequest is the body of POST /api/runs/:id/commands/:cid/ack.
type AckCommandRequest struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// UpsertRunStateRequest is the body of POST /api/runs/:id/state. Fields left
// nil are preserved (COALESCE semantics).
type UpsertRunStateRequest struct {
	WorkingDir   *string           `json:"workingDir,omitempty"`
	LastSequence *int              `json:"lastSequence,omitempty"`
	StdinBuffer  *string           `json:"stdinBuffer,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`
	Heartbeat    *HeartbeatRequest `json:"heartbeat,omitempty"`
}

// RunStateResponse is the body of GET /api/runs/:id/state.
type RunStateResponse struct {
	Run         RunSummary `json:"run"`
	WorkingDir  string     `json:"workingDir,omitempty"`
	LastSequence int       `json:"lastSequence"`
	RecentEvents []EventDTO `json:"recentEvents"`
	CanResume   bool       `json:"canResume"`
}

// ArtifactSummary describes an uploaded artifact.
type ArtifactSummary struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// RegisterClientRequest is the body of POST /api/clients/register.
type RegisterClientRequest struct {
	AgentID      string   `json:"agentId"`
	DisplayName  string   `json:"displayName,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// CreateClientResponse is returned once from POST /api/clients/create and
// POST /api/clients/:id/token.
type CreateClientResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// ClaimRunRequest is the body of POST /api/runs/claim.
type ClaimRunRequest struct {
	AgentID string `json:"agentId"`
}

// ClaimRunResponse carries the claimed run, if any was pending.
type ClaimRunResponse struct {
	Run *RunSummary `json:"run,omitempty"`
}

// HeartbeatRequest is sent alongside the run-state upsert to advance the
// client's last_seen_at.
type HeartbeatRequest struct {
	AgentID     string  `json:"agentId"`
	CPUPercent  float64 `json:"cpuPercent,omitempty"`
	MemPercent  float64 `json:"memPercent,omitempty"`
	DiskPercent float64 `json:"diskPercent,omitempty"`
}

// RunLinkResponse is returned once from POST /api/runs/:id/link.
type RunLinkResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}
