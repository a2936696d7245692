package entity

import (
	"context"
	"fmt"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

// TrainingProblemType discriminates how a training list entry is surfaced.
type TrainingProblemType string

const (
	TPDefault          TrainingProblemType = "Default"
	TPPreset           TrainingProblemType = "Preset"
	TPPresetForce      TrainingProblemType = "PresetForce"
	TPOnlyPreview      TrainingProblemType = "OnlyPreview"
)

// Training wraps a NodeTraining: a named, nestable problem list.
type Training struct {
	st store.Store
	graph.Node
}

func (t *Training) Title() string { return t.PayloadString("title") }
func (t *Training) Iden() string  { return t.PayloadString("iden") }

// CreateTraining persists a new Training node.
func CreateTraining(ctx context.Context, st store.Store, title, iden, descriptionPublic, descriptionPrivate string) (*Training, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeTraining,
		Payload: map[string]any{
			"title": title, "iden": iden,
			"description_public": descriptionPublic, "description_private": descriptionPrivate,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Training{st: st, Node: n}, nil
}

// AddProblem attaches a statement (or nested training list) to a training
// node via a TrainingProblem edge, enforcing the DAG invariant (spec.md 3:
// "cycles via TrainingProblem are forbidden") by rejecting an edge whose
// target is an ancestor of u.
func AddProblem(ctx context.Context, st store.Store, u, v string, order int, typ TrainingProblemType) error {
	if reaches(ctx, st, v, u) {
		return errCycle
	}
	_, err := st.CreateEdge(ctx, graph.Edge{
		Type: graph.EdgeTrainingProblem, U: u, V: v,
		Payload: map[string]any{"order": float64(order), "problem_type": string(typ)},
	})
	return err
}

var errCycle = fmt.Errorf("entity: training problem list would form a cycle")

func reaches(ctx context.Context, st store.Store, from, to string) bool {
	if from == to {
		return true
	}
	edges, err := st.ListEdgesFrom(ctx, graph.EdgeTrainingProblem, from)
	if err != nil {
		return false
	}
	for _, e := range edges {
		if reaches(ctx, st, e.V, to) {
			return true
		}
	}
	return false
}

// TrainingUserState is a participant's membership state (spec.md 3).
type TrainingUserState string

const (
	TUStateJoined TrainingUserState = "joined"
	TUStateLeft   TrainingUserState = "left"
)

// SetTrainingUser upserts the TrainingUser edge recording a participant's
// membership state.
func SetTrainingUser(ctx context.Context, st store.Store, trainingID, userID string, state TrainingUserState) error {
	edges, err := st.ListEdgesFrom(ctx, graph.EdgeTrainingUser, trainingID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.V == userID {
			return st.UpdateEdge(ctx, e.ID, map[string]any{"state": string(state)})
		}
	}
	_, err = st.CreateEdge(ctx, graph.Edge{
		Type: graph.EdgeTrainingUser, U: trainingID, V: userID,
		Payload: map[string]any{"state": string(state)},
	})
	return err
}
