package aoestore

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

// yamlFile is the on-disk YAML shape of an AOE model file. DTO structs
// rather than yaml tags on domain types, so the wire format can evolve
// without touching the model.
type yamlFile struct {
	Aoes []yamlAoe `yaml:"aoes"`
}

type yamlAoe struct {
	ID        uint64       `yaml:"id"`
	Name      string       `yaml:"name"`
	Trigger   string       `yaml:"trigger"`
	Events    []yamlEvent  `yaml:"events"`
	Actions   []yamlAction `yaml:"actions"`
	Variables []yamlVar    `yaml:"variables"`
}

type yamlEvent struct {
	ID        uint64 `yaml:"id"`
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Expr      string `yaml:"expr"`
	TimeoutMS uint64 `yaml:"timeout_ms"`
}

type yamlAction struct {
	Name        string           `yaml:"name"`
	Source      uint64           `yaml:"source"`
	Target      uint64           `yaml:"target"`
	FailureMode string           `yaml:"failure_mode"`
	Kind        string           `yaml:"kind"`
	Assignments []yamlAssignment `yaml:"assignments,omitempty"`

	CheckTolRel    float64 `yaml:"check_tol_rel,omitempty"`
	CheckTolAbs    float64 `yaml:"check_tol_abs,omitempty"`
	CheckTimeoutMS uint64  `yaml:"check_timeout_ms,omitempty"`

	Variables     []string           `yaml:"variables,omitempty"`
	Equations     []string           `yaml:"equations,omitempty"`
	XInit         map[string]float64 `yaml:"x_init,omitempty"`
	Params        map[string]string  `yaml:"params,omitempty"`
	Objective     string             `yaml:"objective,omitempty"`
	ConstraintOps []string           `yaml:"constraint_ops,omitempty"`
	Lower         map[string]float64 `yaml:"lower,omitempty"`
	Upper         map[string]float64 `yaml:"upper,omitempty"`
	IsInteger     map[string]bool    `yaml:"is_integer,omitempty"`
	Minimize      bool               `yaml:"minimize,omitempty"`
	URL           string             `yaml:"url,omitempty"`
}

type yamlAssignment struct {
	Point    string `yaml:"point"`
	Discrete bool   `yaml:"discrete,omitempty"`
	Expr     string `yaml:"expr"`
}

type yamlVar struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// LoadYAML reads an AOE model file from path.
func LoadYAML(path string) ([]*domain.AoeModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses a YAML model document into AoeModels. A malformed
// trigger, node type, or failure mode fails the whole document: load-time
// errors abort loading rather than half-scheduling a fleet.
func ParseYAML(data []byte) ([]*domain.AoeModel, error) {
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	out := make([]*domain.AoeModel, 0, len(file.Aoes))
	for _, ya := range file.Aoes {
		model, err := ya.toDomain()
		if err != nil {
			return nil, fmt.Errorf("aoe %d (%s): %w", ya.ID, ya.Name, err)
		}
		out = append(out, model)
	}
	return out, nil
}

func (ya yamlAoe) toDomain() (*domain.AoeModel, error) {
	trigger, err := domain.ParseTrigger(ya.Trigger)
	if err != nil {
		return nil, err
	}
	model := &domain.AoeModel{ID: ya.ID, Name: ya.Name, Trigger: trigger}
	for _, ev := range ya.Events {
		nodeType, err := parseNodeType(ev.Type)
		if err != nil {
			return nil, err
		}
		model.Events = append(model.Events, domain.EventNode{
			ID: ev.ID, AoeID: ya.ID, Name: ev.Name, NodeType: nodeType,
			Expr: ev.Expr, TimeoutMS: ev.TimeoutMS,
		})
	}
	for _, act := range ya.Actions {
		mode, err := parseFailureMode(act.FailureMode)
		if err != nil {
			return nil, err
		}
		spec, err := act.toSpec()
		if err != nil {
			return nil, err
		}
		model.Actions = append(model.Actions, domain.ActionEdge{
			AoeID: ya.ID, Name: act.Name,
			SourceNodeID: act.Source, TargetNodeID: act.Target,
			FailureMode: mode, Action: spec,
		})
	}
	for _, v := range ya.Variables {
		model.Variables = append(model.Variables, domain.Variable{Name: v.Name, Expr: v.Expr})
	}
	return model, nil
}

func (act yamlAction) toSpec() (domain.ActionSpec, error) {
	kind, err := parseActionKind(act.Kind)
	if err != nil {
		return domain.ActionSpec{}, err
	}
	spec := domain.ActionSpec{
		Kind:           kind,
		CheckTolRel:    act.CheckTolRel,
		CheckTolAbs:    act.CheckTolAbs,
		CheckTimeoutMS: act.CheckTimeoutMS,
		Variables:      act.Variables,
		Equations:      act.Equations,
		XInit:          act.XInit,
		Params:         act.Params,
		Objective:      act.Objective,
		ConstraintOps:  act.ConstraintOps,
		Lower:          act.Lower,
		Upper:          act.Upper,
		IsInteger:      act.IsInteger,
		Minimize:       act.Minimize,
		URL:            act.URL,
	}
	for _, asn := range act.Assignments {
		spec.Assignments = append(spec.Assignments, domain.PointAssignment{
			PointAlias: asn.Point, IsDiscrete: asn.Discrete, Expr: asn.Expr,
		})
	}
	return spec, nil
}

func parseNodeType(s string) (domain.NodeType, error) {
	switch domain.NodeType(s) {
	case domain.ConditionNode, domain.SwitchNode, domain.SwitchOfActionResult:
		return domain.NodeType(s), nil
	}
	return "", fmt.Errorf("unknown node type %q", s)
}

func parseFailureMode(s string) (domain.FailureMode, error) {
	if s == "" {
		return domain.FailureDefault, nil
	}
	switch domain.FailureMode(s) {
	case domain.FailureDefault, domain.FailureIgnore, domain.FailureStopAll, domain.FailureStopFailed:
		return domain.FailureMode(s), nil
	}
	return "", fmt.Errorf("unknown failure mode %q", s)
}

func parseActionKind(s string) (domain.ActionKind, error) {
	if s == "" {
		return domain.ActionNone, nil
	}
	switch domain.ActionKind(s) {
	case domain.ActionNone, domain.ActionSetPoints, domain.ActionSetPointsWithCheck,
		domain.ActionSolve, domain.ActionNlsolve, domain.ActionMilp,
		domain.ActionSimpleMilp, domain.ActionNlp, domain.ActionURL:
		return domain.ActionKind(s), nil
	}
	return "", fmt.Errorf("unknown action kind %q", s)
}

// LoadIntoStore loads every model in path (YAML or CSV, by extension)
// into store.
func LoadIntoStore(store Store, path string) error {
	var models []*domain.AoeModel
	var err error
	if isCSV(path) {
		models, err = LoadCSV(path)
	} else {
		models, err = LoadYAML(path)
	}
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, m := range models {
		if err := store.SaveModel(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func isCSV(path string) bool {
	return len(path) > 4 && path[len(path)-4:] == ".csv"
}
