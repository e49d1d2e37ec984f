package dsl

import (
	"fmt"

	"github.com/BaSui01/flowrun/workflow"
)

// Validator 模板校验器，收集全部问题而不是遇错即停
type Validator struct{}

// NewValidator 创建校验器
func NewValidator() *Validator {
	return &Validator{}
}

// Validate 校验模板
func (v *Validator) Validate(tpl *Template) []error {
	var errs []error

	if tpl == nil {
		return []error{fmt.Errorf("template is nil")}
	}
	if len(tpl.Nodes) == 0 {
		errs = append(errs, fmt.Errorf("nodes must have at least one node"))
	}

	// 收集所有节点 ID
	nodeIDs := make(map[string]bool)
	for _, node := range tpl.Nodes {
		if node.ID == "" {
			errs = append(errs, fmt.Errorf("node ID is required"))
			continue
		}
		if nodeIDs[node.ID] {
			errs = append(errs, fmt.Errorf("duplicate node ID: %s", node.ID))
		}
		nodeIDs[node.ID] = true
	}

	// 验证每个节点
	for i := range tpl.Nodes {
		errs = append(errs, v.validateNode(&tpl.Nodes[i], nodeIDs)...)
	}

	// 验证边
	for i, e := range tpl.Edges {
		if !nodeIDs[e.SourceNodeID] {
			errs = append(errs, fmt.Errorf("edge %d: source node %q does not exist", i, e.SourceNodeID))
		}
		if !nodeIDs[e.TargetNodeID] {
			errs = append(errs, fmt.Errorf("edge %d: target node %q does not exist", i, e.TargetNodeID))
		}
		switch e.SourcePortID {
		case "", "true", "false":
		default:
			errs = append(errs, fmt.Errorf("edge %d: unknown source port %q", i, e.SourcePortID))
		}
	}

	return errs
}

// validateNode 验证单个节点
func (v *Validator) validateNode(node *NodeDef, nodeIDs map[string]bool) []error {
	var errs []error

	kind, ok := normalizeType(node.Type)
	if !ok {
		return []error{fmt.Errorf("node %s: unknown type %q", node.ID, node.Type)}
	}

	for _, out := range node.Data.Outputs {
		if out.Name == "" {
			errs = append(errs, fmt.Errorf("node %s: output name is required", node.ID))
		}
		if _, err := parseValueType(out.Type); err != nil {
			errs = append(errs, fmt.Errorf("node %s: output %s: %w", node.ID, out.Name, err))
		}
	}

	inputs := node.Data.Inputs
	if inputs == nil {
		if kind == workflow.KindKnowledgeRetrieval {
			errs = append(errs, fmt.Errorf("node %s: knowledge node requires a query parameter", node.ID))
		}
		return errs
	}

	for _, p := range inputs.InputParameters {
		errs = append(errs, v.validateValue(node.ID, p.Name, p.Input, nodeIDs)...)
	}

	for bi, br := range inputs.Branches {
		for ci, c := range br.Condition.Conditions {
			where := fmt.Sprintf("branch %d condition %d", bi, ci)
			if c.Operator < 1 || c.Operator > 4 {
				errs = append(errs, fmt.Errorf("node %s: %s: unknown operator %d", node.ID, where, c.Operator))
			}
			if len(c.Left) == 0 || len(c.Right) == 0 {
				errs = append(errs, fmt.Errorf("node %s: %s: left and right operands are required", node.ID, where))
			}
			for name, val := range c.Left {
				errs = append(errs, v.validateValue(node.ID, where+" left "+name, val, nodeIDs)...)
			}
			for name, val := range c.Right {
				errs = append(errs, v.validateValue(node.ID, where+" right "+name, val, nodeIDs)...)
			}
		}
	}

	return errs
}

// validateValue 验证输入值来源与引用完整性
func (v *Validator) validateValue(nodeID, name string, in InputValueDef, nodeIDs map[string]bool) []error {
	var errs []error

	if _, err := parseValueType(in.Type); err != nil {
		errs = append(errs, fmt.Errorf("node %s: input %s: %w", nodeID, name, err))
	}

	switch in.Value.Type {
	case ValueSourceLiteral, "":
	case ValueSourceRef:
		blockID, output := refTarget(in.Value)
		if blockID == "" || output == "" {
			errs = append(errs, fmt.Errorf("node %s: input %s: ref requires blockID and name", nodeID, name))
		} else if !nodeIDs[blockID] {
			errs = append(errs, fmt.Errorf("node %s: input %s references unknown node %q", nodeID, name, blockID))
		}
	default:
		errs = append(errs, fmt.Errorf("node %s: input %s: unknown value source %q", nodeID, name, in.Value.Type))
	}

	return errs
}
