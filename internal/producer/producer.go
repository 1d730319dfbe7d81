// Package producer turns a composition job's workflow into artifact bytes.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/kiranshivaraju/mediaforge/internal/jobs"
)

// OutputNode is the workflow node name under which composed videos are reported.
const OutputNode = "VHS_VideoCombine"

var (
	ErrInvalidWorkflow = errors.New("invalid workflow")
	ErrProducerFailed  = errors.New("producer failed")
)

// Producer runs the external production step for one job. Implementations
// must honour ctx cancellation.
type Producer interface {
	Name() string
	Produce(ctx context.Context, job jobs.Job) (*Result, error)
}

// Result is the produced artifact, not yet stored.
type Result struct {
	Data        []byte
	ContentType string
	Ext         string
	Node        string
}

// Node is one entry of a workflow graph.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Workflow maps node ids to nodes.
type Workflow map[string]Node

// ParseWorkflow decodes a job input. An empty object is a valid workflow.
func ParseWorkflow(raw json.RawMessage) (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	return wf, nil
}

// Input returns the string input key of the first node (by id order) with
// the given class type, or "" when there is none.
func (w Workflow) Input(classType, key string) string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		node := w[id]
		if node.ClassType != classType {
			continue
		}
		if v, ok := node.Inputs[key].(string); ok {
			return v
		}
	}
	return ""
}
