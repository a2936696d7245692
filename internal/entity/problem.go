package entity

import (
	"context"
	"time"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

// Problem wraps a NodeProblem: name, creation timestamp.
type Problem struct {
	st store.Store
	graph.Node
}

func (p *Problem) Name() string { return p.PayloadString("name") }

// Tags returns the IDs of every ProblemTag node attached to p, a plain
// node-reference list on the problem's own payload (SPEC_FULL.md 3's
// supplement: "attached via a plain node reference list, no separate
// edge type needed").
func (p *Problem) Tags() []string {
	raw, _ := p.Payload["tags"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// CreateProblem persists a new Problem node.
func CreateProblem(ctx context.Context, st store.Store, name string) (*Problem, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeProblem,
		Payload: map[string]any{
			"name":       name,
			"tags":       []any{},
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}
	return &Problem{st: st, Node: n}, nil
}

// ProblemTag wraps a NodeProblemTag: a short description attached to one
// or more problems (SPEC_FULL.md 3 supplement, grounded on
// original_source's model/record.rs tag handling).
type ProblemTag struct {
	st store.Store
	graph.Node
}

func (t *ProblemTag) Description() string { return t.PayloadString("description") }

// CreateProblemTag persists a new tag node.
func CreateProblemTag(ctx context.Context, st store.Store, description string) (*ProblemTag, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type:    graph.NodeProblemTag,
		Payload: map[string]any{"description": description},
	})
	if err != nil {
		return nil, err
	}
	return &ProblemTag{st: st, Node: n}, nil
}

// AddTag attaches an existing tag node to p.
func (p *Problem) AddTag(ctx context.Context, tagID string) error {
	payload := clonePayload(p.Payload)
	tags := p.Tags()
	for _, id := range tags {
		if id == tagID {
			return nil
		}
	}
	tags = append(tags, tagID)
	rawTags := make([]any, len(tags))
	for i, id := range tags {
		rawTags[i] = id
	}
	payload["tags"] = rawTags
	if err := p.st.UpdateNode(ctx, p.ID, payload); err != nil {
		return err
	}
	p.Payload = payload
	return nil
}

func GetProblem(ctx context.Context, st store.Store, id string) (*Problem, error) {
	n, err := st.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Problem{st: st, Node: n}, nil
}

// ContentBlock is one (section_iden, markdown) pair of a statement body.
type ContentBlock struct {
	SectionIden string `json:"section_iden"`
	Markdown    string `json:"markdown"`
}

// Statement wraps a NodeProblemStatement.
type Statement struct {
	st store.Store
	graph.Node
}

func (s *Statement) Iden() string         { return s.PayloadString("iden") }
func (s *Statement) Source() string       { return s.PayloadString("source") }
func (s *Statement) TimeLimit() int       { return s.PayloadInt("time_limit") }
func (s *Statement) MemoryLimit() int     { return s.PayloadInt("memory_limit") }
func (s *Statement) Difficulty() int      { return s.PayloadInt("difficulty") }
func (s *Statement) RootSubtaskID() string { return s.PayloadString("root_subtask_id") }

// EnsureRootSubtask returns a statement's root subtask node, creating one
// with method SUM on first use. Spec.md 4.4 step 3 creates on-the-fly
// testcases "under the statement's root subtask"; this is the lazily
// materialised link between a statement and the subtask tree spec.md 3
// describes without naming how the two connect.
func (s *Statement) EnsureRootSubtask(ctx context.Context, st store.Store) (*Subtask, error) {
	if id := s.RootSubtaskID(); id != "" {
		return GetSubtask(ctx, st, id)
	}

	root, err := CreateSubtask(ctx, st, "", AggSum, "", 0)
	if err != nil {
		return nil, err
	}

	payload := clonePayload(s.Payload)
	payload["root_subtask_id"] = root.ID
	if err := st.UpdateNode(ctx, s.ID, payload); err != nil {
		return nil, err
	}
	s.Payload = payload
	return root, nil
}

// CreateStatement persists a new statement and links it to problemID via a
// ProblemStatement edge.
func CreateStatement(ctx context.Context, st store.Store, problemID, iden, source string, timeLimit, memoryLimit int, copyrightRisk bool) (*Statement, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeProblemStatement,
		Payload: map[string]any{
			"iden":         iden,
			"source":       source,
			"time_limit":   float64(timeLimit),
			"memory_limit": float64(memoryLimit),
			"created_at":   time.Now().UTC().Format(time.RFC3339),
			"updated_at":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := st.CreateEdge(ctx, graph.Edge{
		Type: graph.EdgeProblemStatement, U: problemID, V: n.ID,
		Payload: map[string]any{"copyright_risk": copyrightRisk},
	}); err != nil {
		return nil, err
	}

	return &Statement{st: st, Node: n}, nil
}

func GetStatement(ctx context.Context, st store.Store, id string) (*Statement, error) {
	n, err := st.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Statement{st: st, Node: n}, nil
}

// StatementsOf lists a problem's statements via its ProblemStatement edges.
func StatementsOf(ctx context.Context, st store.Store, problemID string) ([]*Statement, error) {
	edges, err := st.ListEdgesFrom(ctx, graph.EdgeProblemStatement, problemID)
	if err != nil {
		return nil, err
	}
	out := make([]*Statement, 0, len(edges))
	for _, e := range edges {
		s, err := GetStatement(ctx, st, e.V)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
