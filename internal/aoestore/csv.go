package aoestore

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

// CSV model format: record-tagged rows, one tag per block of spec.md §6's
// model file layout.
//
//	aoe,<id>,<name>,<trigger-string>
//	event,<event_id>,<aoe_id>,<name>,<node_type>,<expr>,<timeout_ms>
//	action,<aoe_id>,<name>,<source>,<target>,<failure_mode>,<kind>,<payload-json>
//	var,<aoe_id>,<name>,<expr>
//
// The payload column is the JSON encoding of the ActionSpec's non-kind
// fields; rows may arrive in any order as long as each aoe row precedes
// its blocks.

// LoadCSV reads an AOE model file in the tagged-CSV format from path.
func LoadCSV(path string) ([]*domain.AoeModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f)
}

// ParseCSV parses the tagged-CSV model format from r.
func ParseCSV(r io.Reader) ([]*domain.AoeModel, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	byID := make(map[uint64]*domain.AoeModel)
	var order []uint64

	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(record) == 0 || strings.HasPrefix(record[0], "#") {
			continue
		}
		switch record[0] {
		case "aoe":
			if len(record) < 4 {
				return nil, fmt.Errorf("line %d: aoe row needs id,name,trigger", line)
			}
			id, err := parseU64(record[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			trigger, err := domain.ParseTrigger(record[3])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			byID[id] = &domain.AoeModel{ID: id, Name: record[2], Trigger: trigger}
			order = append(order, id)
		case "event":
			if len(record) < 7 {
				return nil, fmt.Errorf("line %d: event row needs id,aoe_id,name,type,expr,timeout_ms", line)
			}
			evID, err1 := parseU64(record[1])
			aoeID, err2 := parseU64(record[2])
			timeout, err3 := parseU64(record[6])
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, fmt.Errorf("line %d: bad numeric field in event row", line)
			}
			nodeType, err := parseNodeType(record[4])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			model, ok := byID[aoeID]
			if !ok {
				return nil, fmt.Errorf("line %d: event references undeclared aoe %d", line, aoeID)
			}
			model.Events = append(model.Events, domain.EventNode{
				ID: evID, AoeID: aoeID, Name: record[3], NodeType: nodeType,
				Expr: record[5], TimeoutMS: timeout,
			})
		case "action":
			if len(record) < 8 {
				return nil, fmt.Errorf("line %d: action row needs aoe_id,name,source,target,failure_mode,kind,payload", line)
			}
			aoeID, err1 := parseU64(record[1])
			source, err2 := parseU64(record[3])
			target, err3 := parseU64(record[4])
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, fmt.Errorf("line %d: bad numeric field in action row", line)
			}
			mode, err := parseFailureMode(record[5])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			kind, err := parseActionKind(record[6])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			var spec domain.ActionSpec
			if payload := strings.TrimSpace(record[7]); payload != "" {
				if err := json.Unmarshal([]byte(payload), &spec); err != nil {
					return nil, fmt.Errorf("line %d: action payload: %w", line, err)
				}
			}
			spec.Kind = kind
			model, ok := byID[aoeID]
			if !ok {
				return nil, fmt.Errorf("line %d: action references undeclared aoe %d", line, aoeID)
			}
			model.Actions = append(model.Actions, domain.ActionEdge{
				AoeID: aoeID, Name: record[2],
				SourceNodeID: source, TargetNodeID: target,
				FailureMode: mode, Action: spec,
			})
		case "var":
			if len(record) < 4 {
				return nil, fmt.Errorf("line %d: var row needs aoe_id,name,expr", line)
			}
			aoeID, err := parseU64(record[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			model, ok := byID[aoeID]
			if !ok {
				return nil, fmt.Errorf("line %d: var references undeclared aoe %d", line, aoeID)
			}
			model.Variables = append(model.Variables, domain.Variable{Name: record[2], Expr: record[3]})
		default:
			return nil, fmt.Errorf("line %d: unknown row tag %q", line, record[0])
		}
	}

	out := make([]*domain.AoeModel, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func parseU64(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}
