package dsl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowrun/types"
	"github.com/BaSui01/flowrun/workflow"
)

// Parser 模板解析器
type Parser struct {
	validator *Validator
	logger    *zap.Logger
}

// NewParser 创建模板解析器
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		validator: NewValidator(),
		logger:    logger.With(zap.String("component", "workflow_dsl")),
	}
}

// Load 使用默认解析器解析、构建并编译模板
func Load(data []byte) (*workflow.Graph, error) {
	return NewParser(nil).Parse(data)
}

// LoadFile 从文件加载模板
func LoadFile(filename string) (*workflow.Graph, error) {
	return NewParser(nil).ParseFile(filename)
}

// ParseFile 从文件解析模板
func (p *Parser) ParseFile(filename string) (*workflow.Graph, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}
	return p.Parse(data)
}

// Parse 解析 JSON 或 YAML 模板并构建工作流图
func (p *Parser) Parse(data []byte) (*workflow.Graph, error) {
	// 1. 解码
	tpl, err := Decode(data)
	if err != nil {
		return nil, err
	}

	// 2. 校验模板
	if errs := p.validator.Validate(tpl); len(errs) > 0 {
		return nil, types.Errorf(types.ErrStructural, "invalid template: %d problem(s)", len(errs)).
			WithCause(errors.Join(errs...))
	}

	// 3. 构建图
	graph, err := p.Build(tpl)
	if err != nil {
		return nil, err
	}

	// 4. 编译校验路由
	if _, err := workflow.Compile(graph); err != nil {
		return nil, err
	}

	p.logger.Debug("workflow template loaded",
		zap.Int("nodes", graph.NodeCount()),
		zap.Int("edges", len(graph.Edges())),
		zap.Any("versions", graph.Versions()),
	)
	return graph, nil
}

// Decode 解码模板；以 '{' 开头按 JSON 处理，否则按 YAML 处理
func Decode(data []byte) (*Template, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "empty template")
	}

	var tpl Template
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&tpl); err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "parse JSON template").WithCause(err)
		}
		return &tpl, nil
	}
	if err := yaml.Unmarshal(trimmed, &tpl); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "parse YAML template").WithCause(err)
	}
	return &tpl, nil
}

// Build 将已校验的模板转换为 workflow.Graph
func (p *Parser) Build(tpl *Template) (*workflow.Graph, error) {
	nodes := make([]workflow.Node, 0, len(tpl.Nodes))
	for i := range tpl.Nodes {
		node, err := buildNode(&tpl.Nodes[i])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	edges := make([]workflow.Edge, 0, len(tpl.Edges))
	for _, e := range tpl.Edges {
		edges = append(edges, workflow.Edge{
			Source:    e.SourceNodeID,
			Target:    e.TargetNodeID,
			BranchTag: e.SourcePortID,
		})
	}

	return workflow.NewGraph(nodes, edges, tpl.Versions)
}

// normalizeType 将类型编码或别名统一为节点种类
func normalizeType(code string) (workflow.NodeKind, bool) {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case TypeCodeStart, "start":
		return workflow.KindStart, true
	case TypeCodeEnd, "end":
		return workflow.KindEnd, true
	case TypeCodeLLM, "llm":
		return workflow.KindModelCall, true
	case TypeCodeKnowledge, "knowledge", "kb":
		return workflow.KindKnowledgeRetrieval, true
	case TypeCodeCondition, "condition":
		return workflow.KindCondition, true
	}
	return "", false
}

func buildNode(def *NodeDef) (workflow.Node, error) {
	kind, ok := normalizeType(def.Type)
	if !ok {
		return workflow.Node{}, types.Errorf(types.ErrStructural, "unknown node type %q", def.Type).WithNode(def.ID)
	}

	var params []InputParameterDef
	if def.Data.Inputs != nil {
		params = def.Data.Inputs.InputParameters
	}

	node := workflow.Node{ID: def.ID, DisplayMeta: displayMeta(def)}
	switch kind {
	case workflow.KindStart:
		cfg := workflow.StartConfig{}
		for _, out := range def.Data.Outputs {
			vt, err := parseValueType(out.Type)
			if err != nil {
				return workflow.Node{}, withNode(err, def.ID)
			}
			cfg.Outputs = append(cfg.Outputs, workflow.OutputDecl{Name: out.Name, Type: vt, Required: out.Required})
		}
		node.Config = cfg

	case workflow.KindEnd:
		cfg := workflow.EndConfig{}
		if param, ok := pickParam(params, true); ok {
			in, err := buildInput(def.ID, param)
			if err != nil {
				return workflow.Node{}, err
			}
			cfg.Input = &in
		}
		node.Config = cfg

	case workflow.KindModelCall:
		cfg := workflow.ModelCallConfig{}
		for _, param := range params {
			in, err := buildInput(def.ID, param)
			if err != nil {
				return workflow.Node{}, err
			}
			cfg.Inputs = append(cfg.Inputs, in)
		}
		if def.Data.Inputs != nil {
			mp, err := buildModelParams(def.ID, def.Data.Inputs.LLMParam)
			if err != nil {
				return workflow.Node{}, err
			}
			cfg.Params = mp
		}
		node.Config = cfg

	case workflow.KindKnowledgeRetrieval:
		param, ok := pickParam(params, false)
		if !ok {
			return workflow.Node{}, types.NewError(types.ErrStructural, "knowledge node has no query parameter").WithNode(def.ID)
		}
		in, err := buildInput(def.ID, param)
		if err != nil {
			return workflow.Node{}, err
		}
		node.Config = workflow.KnowledgeRetrievalConfig{Query: in}

	case workflow.KindCondition:
		cfg := workflow.ConditionConfig{}
		if def.Data.Inputs != nil {
			for _, br := range def.Data.Inputs.Branches {
				grp, err := buildGroup(def.ID, br.Condition)
				if err != nil {
					return workflow.Node{}, err
				}
				cfg.Groups = append(cfg.Groups, grp)
			}
		}
		node.Config = cfg
	}
	return node, nil
}

// pickParam 选择单输入节点的参数：End 取第一个引用，知识库取最后一个引用；
// 没有引用时退回到第一个/最后一个参数
func pickParam(params []InputParameterDef, first bool) (InputParameterDef, bool) {
	if len(params) == 0 {
		return InputParameterDef{}, false
	}
	ordered := params
	if !first {
		ordered = slices.Clone(params)
		slices.Reverse(ordered)
	}
	for _, p := range ordered {
		if p.Input.Value.Type == ValueSourceRef {
			return p, true
		}
	}
	return ordered[0], true
}

func buildInput(nodeID string, param InputParameterDef) (workflow.InputParam, error) {
	ref, err := buildValue(nodeID, param.Input)
	if err != nil {
		return workflow.InputParam{}, err
	}
	vt, err := parseValueType(param.Input.Type)
	if err != nil {
		return workflow.InputParam{}, withNode(err, nodeID)
	}
	return workflow.InputParam{Name: param.Name, Type: vt, Value: ref}, nil
}

func buildValue(nodeID string, v InputValueDef) (workflow.ValueRef, error) {
	switch v.Value.Type {
	case ValueSourceRef:
		blockID, name := refTarget(v.Value)
		return workflow.Ref(blockID, name), nil
	case ValueSourceLiteral, "":
		tv, err := convertLiteral(v.Value.Content, v.Type)
		if err != nil {
			return nil, withNode(err, nodeID)
		}
		return workflow.LiteralRef{Value: tv}, nil
	}
	return nil, types.Errorf(types.ErrStructural, "unknown value source %q", v.Value.Type).WithNode(nodeID)
}

// refTarget 读取引用目标，优先使用 content 中的 {blockID, name}
func refTarget(v ValueContentDef) (string, string) {
	blockID, name := v.BlockID, v.Name
	if m, ok := v.Content.(map[string]any); ok {
		if s, ok := m["blockID"].(string); ok && s != "" {
			blockID = s
		}
		if s, ok := m["name"].(string); ok && s != "" {
			name = s
		}
	}
	return blockID, name
}

// pickOperand 取比较操作数：优先 "input" 键，否则按键名排序取第一个
func pickOperand(m map[string]InputValueDef) (InputValueDef, bool) {
	if v, ok := m["input"]; ok {
		return v, true
	}
	if len(m) == 0 {
		return InputValueDef{}, false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return m[keys[0]], true
}

func buildGroup(nodeID string, def ConditionDef) (workflow.ConditionGroup, error) {
	grp := workflow.ConditionGroup{Logic: workflow.Logic(def.Logic)}
	for i, c := range def.Conditions {
		leftDef, ok := pickOperand(c.Left)
		if !ok {
			return grp, types.Errorf(types.ErrStructural, "condition %d has no left operand", i).WithNode(nodeID)
		}
		rightDef, ok := pickOperand(c.Right)
		if !ok {
			return grp, types.Errorf(types.ErrStructural, "condition %d has no right operand", i).WithNode(nodeID)
		}
		left, err := buildValue(nodeID, leftDef)
		if err != nil {
			return grp, err
		}
		right, err := buildValue(nodeID, rightDef)
		if err != nil {
			return grp, err
		}
		grp.Comparisons = append(grp.Comparisons, workflow.When(left, workflow.Operator(c.Operator), right))
	}
	return grp, nil
}

// buildModelParams 从 llmParam 中提取调用参数，未识别的键忽略
func buildModelParams(nodeID string, params []InputParameterDef) (workflow.ModelParams, error) {
	var mp workflow.ModelParams
	for _, p := range params {
		if p.Input.Value.Type == ValueSourceRef {
			return mp, types.Errorf(types.ErrStructural, "llmParam %q must be a literal", p.Name).WithNode(nodeID)
		}
		content := p.Input.Value.Content

		var err error
		switch p.Name {
		case "modleName", "modelName", "model":
			mp.Model, err = literalString(content)
		case "systemPrompt":
			mp.SystemPrompt, err = literalString(content)
		case "temperature":
			mp.Temperature, err = literalFloatPtr(content)
		case "topP":
			mp.TopP, err = literalFloatPtr(content)
		case "maxTokens":
			var tv workflow.TypedValue
			tv, err = convertLiteral(content, string(workflow.TypeInteger))
			if err == nil {
				mp.MaxTokens = int(tv.Value.(int64))
			}
		}
		if err != nil {
			return mp, withNode(fmt.Errorf("llmParam %q: %w", p.Name, err), nodeID)
		}
	}
	return mp, nil
}

func literalString(content any) (string, error) {
	tv, err := convertLiteral(content, string(workflow.TypeString))
	if err != nil {
		return "", err
	}
	return tv.Value.(string), nil
}

func literalFloatPtr(content any) (*float64, error) {
	if content == nil || content == "" {
		return nil, nil
	}
	tv, err := convertLiteral(content, string(workflow.TypeFloat))
	if err != nil {
		return nil, err
	}
	f := tv.Value.(float64)
	return &f, nil
}

// parseValueType 解析模板中的类型名，空字符串表示未声明
func parseValueType(s string) (workflow.ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "string", "str":
		return workflow.TypeString, nil
	case "integer", "int":
		return workflow.TypeInteger, nil
	case "float", "number":
		return workflow.TypeFloat, nil
	case "boolean", "bool":
		return workflow.TypeBoolean, nil
	case "list", "array":
		return workflow.TypeList, nil
	case "object", "map":
		return workflow.TypeObject, nil
	}
	return "", types.Errorf(types.ErrTypeMismatch, "unknown value type %q", s)
}

// convertLiteral 按声明类型转换字面量
func convertLiteral(content any, declared string) (workflow.TypedValue, error) {
	vt, err := parseValueType(declared)
	if err != nil {
		return workflow.TypedValue{}, err
	}
	mismatch := func() (workflow.TypedValue, error) {
		return workflow.TypedValue{}, types.Errorf(types.ErrTypeMismatch, "literal %v is not a valid %s", content, vt)
	}

	switch vt {
	case "":
		if content == nil {
			return workflow.TypedValue{Value: "", Type: workflow.TypeString}, nil
		}
		return workflow.NewTypedValue(content)

	case workflow.TypeString:
		if content == nil {
			return workflow.TypedValue{Value: "", Type: workflow.TypeString}, nil
		}
		if s, ok := content.(string); ok {
			return workflow.TypedValue{Value: s, Type: workflow.TypeString}, nil
		}
		tv, err := workflow.NewTypedValue(content)
		if err != nil {
			return mismatch()
		}
		return workflow.TypedValue{Value: tv.String(), Type: workflow.TypeString}, nil

	case workflow.TypeInteger:
		switch x := content.(type) {
		case json.Number:
			if i, err := x.Int64(); err == nil {
				return workflow.TypedValue{Value: i, Type: workflow.TypeInteger}, nil
			}
		case int:
			return workflow.TypedValue{Value: int64(x), Type: workflow.TypeInteger}, nil
		case int64:
			return workflow.TypedValue{Value: x, Type: workflow.TypeInteger}, nil
		case float64:
			if x == float64(int64(x)) {
				return workflow.TypedValue{Value: int64(x), Type: workflow.TypeInteger}, nil
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return workflow.TypedValue{Value: i, Type: workflow.TypeInteger}, nil
			}
		}
		return mismatch()

	case workflow.TypeFloat:
		switch x := content.(type) {
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return workflow.TypedValue{Value: f, Type: workflow.TypeFloat}, nil
			}
		case int:
			return workflow.TypedValue{Value: float64(x), Type: workflow.TypeFloat}, nil
		case int64:
			return workflow.TypedValue{Value: float64(x), Type: workflow.TypeFloat}, nil
		case float64:
			return workflow.TypedValue{Value: x, Type: workflow.TypeFloat}, nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return workflow.TypedValue{Value: f, Type: workflow.TypeFloat}, nil
			}
		}
		return mismatch()

	case workflow.TypeBoolean:
		switch x := content.(type) {
		case bool:
			return workflow.TypedValue{Value: x, Type: workflow.TypeBoolean}, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return workflow.TypedValue{Value: b, Type: workflow.TypeBoolean}, nil
			}
		}
		return mismatch()

	default:
		tv, err := workflow.NewTypedValue(content)
		if err != nil || tv.Type != vt {
			return mismatch()
		}
		return tv, nil
	}
}

func displayMeta(def *NodeDef) map[string]any {
	meta := make(map[string]any)
	if len(def.Data.NodeMeta) > 0 {
		meta["nodeMeta"] = def.Data.NodeMeta
	}
	if len(def.Meta) > 0 {
		meta["meta"] = def.Meta
	}
	if def.Data.Version != "" {
		meta["version"] = def.Data.Version
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// withNode 为错误补充节点 ID
func withNode(err error, nodeID string) error {
	if e, ok := err.(*types.Error); ok {
		if e.NodeID == "" {
			e.NodeID = nodeID
		}
		return e
	}
	return types.NewError(types.ErrTypeMismatch, err.Error()).WithNode(nodeID).WithCause(err)
}
