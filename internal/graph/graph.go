// Package graph defines the wire/storage shape of nodes and edges shared by
// every node/edge variant in the system (section 3 of the data model this
// backend implements): an opaque ID, a type tag, and a typed JSON payload.
package graph

import "time"

// NodeType discriminates the concrete Node variant.
type NodeType string

const (
	NodeUser              NodeType = "user"
	NodeToken              NodeType = "token"
	NodeProblem            NodeType = "problem"
	NodeProblemStatement   NodeType = "problem_statement"
	NodeProblemTag         NodeType = "problem_tag"
	NodeSubtask            NodeType = "subtask"
	NodeTestcase           NodeType = "testcase"
	NodeRecord             NodeType = "record"
	NodeTraining           NodeType = "training"
	NodeTrainingProblem    NodeType = "training_problem"
	NodeVjudge             NodeType = "vjudge"
	NodeVjudgeTask         NodeType = "vjudge_task"
	NodeIden               NodeType = "iden"
)

// EdgeType discriminates the concrete Edge variant.
type EdgeType string

const (
	EdgePermView         EdgeType = "perm_view"
	EdgePermManage        EdgeType = "perm_manage"
	EdgePermProblem       EdgeType = "perm_problem"
	EdgePermPages         EdgeType = "perm_pages"
	EdgePermSystem        EdgeType = "perm_system"
	EdgeProblemStatement  EdgeType = "problem_statement"
	EdgeTestcase          EdgeType = "testcase"
	EdgeJudge             EdgeType = "judge"
	EdgeTrainingProblem   EdgeType = "training_problem"
	EdgeTrainingUser      EdgeType = "training_user"
	EdgeRecord            EdgeType = "record"
	EdgeUserRemote        EdgeType = "user_remote"
	EdgeIden              EdgeType = "iden"
	EdgeMisc              EdgeType = "misc"
)

// PermEdgeTypes lists every edge type the permission graph (C) tracks.
var PermEdgeTypes = []EdgeType{EdgePermView, EdgePermManage, EdgePermProblem, EdgePermPages, EdgePermSystem}

// Node is the common envelope for every node variant; Payload carries the
// variant-specific fields so one table (per store backend) covers all
// node_types, matching the original's NodeInner enum-of-structs shape
// (see SPEC_FULL.md section 3) without one satellite table per variant.
type Node struct {
	ID        string         `json:"id"`
	Type      NodeType       `json:"node_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Edge is the common envelope for every edge variant.
type Edge struct {
	ID        string         `json:"id"`
	Type      EdgeType       `json:"edge_type"`
	U         string         `json:"u"`
	V         string         `json:"v"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// PayloadString returns payload[key] as a string, or "" if absent/wrong type.
func (n Node) PayloadString(key string) string {
	return asString(n.Payload, key)
}

// PayloadString returns payload[key] as a string, or "" if absent/wrong type.
func (e Edge) PayloadString(key string) string {
	return asString(e.Payload, key)
}

// PayloadInt returns payload[key] as an int, or 0 if absent/wrong type.
func (n Node) PayloadInt(key string) int {
	return asInt(n.Payload, key)
}

// PayloadInt returns payload[key] as an int, or 0 if absent/wrong type.
func (e Edge) PayloadInt(key string) int {
	return asInt(e.Payload, key)
}

func asInt(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
