package models

import "encoding/json"

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id,omitempty"`
}

// PromptResponse acknowledges a queued job. Number is always 1.
type PromptResponse struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number"`
}

// History is the body of GET /history/{prompt_id}: a single entry keyed by
// the job id, or an empty object for an unknown id.
type History map[string]HistoryEntry

type HistoryEntry struct {
	Prompt  json.RawMessage       `json:"prompt"`
	Status  HistoryStatus         `json:"status"`
	Outputs map[string]NodeOutput `json:"outputs,omitempty"`
}

type HistoryStatus struct {
	StatusStr string   `json:"status_str"`
	Completed bool     `json:"completed"`
	Messages  []string `json:"messages"`
}

// NodeOutput lists the files one workflow node produced.
type NodeOutput struct {
	Videos []FileRef `json:"videos"`
}

// FileRef names an artifact retrievable from GET /view.
type FileRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// QueueResponse is the body of GET /queue. Both lists hold job ids, oldest first.
type QueueResponse struct {
	QueueRunning []string `json:"queue_running"`
	QueuePending []string `json:"queue_pending"`
}

type InterruptRequest struct {
	PromptID string `json:"prompt_id"`
}

type InterruptResponse struct {
	PromptID string `json:"prompt_id"`
}

// SystemStats is the body of GET /system_stats. Mode names the producer.
type SystemStats struct {
	Status  string      `json:"status"`
	Mode    string      `json:"mode"`
	Version string      `json:"version"`
	Queue   QueueStats  `json:"queue"`
	System  SystemUsage `json:"system"`
}

type QueueStats struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
}

// SystemUsage reports memory in bytes. VRAM is always zero.
type SystemUsage struct {
	RAM  MemoryUsage `json:"ram"`
	VRAM MemoryUsage `json:"vram"`
}

type MemoryUsage struct {
	Used  uint64 `json:"used"`
	Total uint64 `json:"total"`
}
