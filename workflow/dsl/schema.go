package dsl

// 节点类型编码（模板中的 nodes[].type）
const (
	TypeCodeStart     = "1"
	TypeCodeEnd       = "2"
	TypeCodeLLM       = "3"
	TypeCodeKnowledge = "4"
	TypeCodeCondition = "8"
)

// 输入值来源
const (
	ValueSourceLiteral = "literal"
	ValueSourceRef     = "ref"
)

// Template 工作流模板顶层结构
type Template struct {
	Nodes    []NodeDef         `yaml:"nodes" json:"nodes"`
	Edges    []EdgeDef         `yaml:"edges" json:"edges"`
	Versions map[string]string `yaml:"versions,omitempty" json:"versions,omitempty"`
}

// NodeDef 节点定义
type NodeDef struct {
	ID   string   `yaml:"id" json:"id"`
	Type string   `yaml:"type" json:"type"`
	Data NodeData `yaml:"data" json:"data"`
	// Meta 画布信息（如 position），原样透传
	Meta map[string]any `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// NodeData 节点数据
type NodeData struct {
	// NodeMeta 展示信息（title、icon、description 等），原样透传
	NodeMeta map[string]any `yaml:"nodeMeta,omitempty" json:"nodeMeta,omitempty"`
	// Outputs 开始节点声明的输入参数
	Outputs []ParameterDef `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Inputs  *InputsDef     `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Version string         `yaml:"version,omitempty" json:"version,omitempty"`
}

// ParameterDef 参数声明
type ParameterDef struct {
	Name     string `yaml:"name" json:"name"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
}

// InputsDef 节点输入配置
type InputsDef struct {
	InputParameters []InputParameterDef `yaml:"inputParameters,omitempty" json:"inputParameters,omitempty"`
	Branches        []BranchDef         `yaml:"branches,omitempty" json:"branches,omitempty"`
	LLMParam        []InputParameterDef `yaml:"llmParam,omitempty" json:"llmParam,omitempty"`
	TerminatePlan   string              `yaml:"terminatePlan,omitempty" json:"terminatePlan,omitempty"`
	SettingOnError  map[string]any      `yaml:"settingOnError,omitempty" json:"settingOnError,omitempty"`
}

// InputParameterDef 命名输入参数
type InputParameterDef struct {
	Name  string        `yaml:"name" json:"name"`
	Input InputValueDef `yaml:"input" json:"input"`
}

// InputValueDef 带声明类型的输入值
type InputValueDef struct {
	Type  string          `yaml:"type,omitempty" json:"type,omitempty"` // string, integer, float, boolean
	Value ValueContentDef `yaml:"value" json:"value"`
}

// ValueContentDef 值内容：字面量或对其他节点输出的引用
type ValueContentDef struct {
	Type string `yaml:"type" json:"type"` // literal, ref
	// Content 字面量值；ref 时为 {blockID, name}
	Content any    `yaml:"content,omitempty" json:"content,omitempty"`
	BlockID string `yaml:"blockID,omitempty" json:"blockID,omitempty"`
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Source  string `yaml:"source,omitempty" json:"source,omitempty"`
}

// BranchDef 条件分支
type BranchDef struct {
	Condition ConditionDef `yaml:"condition" json:"condition"`
}

// ConditionDef 条件组
type ConditionDef struct {
	Conditions []ComparisonDef `yaml:"conditions" json:"conditions"`
	Logic      int             `yaml:"logic,omitempty" json:"logic,omitempty"`
}

// ComparisonDef 单个比较；left/right 为 {参数名: 输入值}
type ComparisonDef struct {
	Left     map[string]InputValueDef `yaml:"left" json:"left"`
	Operator int                      `yaml:"operator" json:"operator"`
	Right    map[string]InputValueDef `yaml:"right" json:"right"`
}

// EdgeDef 边定义；SourcePortID 为 "true"/"false" 时是条件分支边
type EdgeDef struct {
	SourceNodeID string `yaml:"sourceNodeID" json:"sourceNodeID"`
	TargetNodeID string `yaml:"targetNodeID" json:"targetNodeID"`
	SourcePortID string `yaml:"sourcePortID,omitempty" json:"sourcePortID,omitempty"`
}
