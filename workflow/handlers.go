package workflow

import (
	"context"
	"strings"

	"github.com/BaSui01/flowrun/types"
)

// ModelRequest is what a ModelCall node sends to the chat model.
type ModelRequest struct {
	Prompt string
	Params ModelParams
}

// ChatModel is the chat-completion collaborator. Retries, if any, belong to
// the implementation.
type ChatModel interface {
	Invoke(ctx context.Context, req ModelRequest) (string, error)
}

// ChatModelFunc adapts a function to ChatModel.
type ChatModelFunc func(ctx context.Context, req ModelRequest) (string, error)

// Invoke calls f.
func (f ChatModelFunc) Invoke(ctx context.Context, req ModelRequest) (string, error) {
	return f(ctx, req)
}

// Retriever is the knowledge-retrieval collaborator.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string) (string, error)

// Retrieve calls f.
func (f RetrieverFunc) Retrieve(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// NodeResult is what a handler hands back to the run loop. Handlers never
// write to the store themselves.
type NodeResult struct {
	Outputs     map[string]TypedValue
	RoutingTag  string
	FinalOutput *TypedValue
}

// handleNode dispatches on the node's config kind.
func (e *Executor) handleNode(ctx context.Context, node Node, store *OutputStore) (NodeResult, error) {
	switch cfg := node.Config.(type) {
	case StartConfig:
		return NodeResult{}, nil
	case ModelCallConfig:
		return handleModelCall(ctx, e.chat, node.ID, cfg, store)
	case KnowledgeRetrievalConfig:
		return handleKnowledgeRetrieval(ctx, e.retriever, node.ID, cfg, store)
	case ConditionConfig:
		tag, err := EvaluateGroups(cfg.Groups, store)
		if err != nil {
			return NodeResult{}, withNode(err, node.ID)
		}
		return NodeResult{RoutingTag: tag}, nil
	case EndConfig:
		return handleEnd(node.ID, cfg, store)
	default:
		return NodeResult{}, structuralError(node.ID, "unknown node config %T", node.Config)
	}
}

func handleModelCall(ctx context.Context, chat ChatModel, nodeID string, cfg ModelCallConfig, store *OutputStore) (NodeResult, error) {
	var prompt strings.Builder
	for _, in := range cfg.Inputs {
		v, err := Resolve(in.Value, store)
		if err != nil {
			return NodeResult{}, withNode(err, nodeID)
		}
		prompt.WriteString(v.String())
	}

	text, err := chat.Invoke(ctx, ModelRequest{Prompt: prompt.String(), Params: cfg.Params})
	if err != nil {
		return NodeResult{}, externalServiceError(nodeID, "chat model", err)
	}
	return NodeResult{Outputs: map[string]TypedValue{
		OutputModelText: {Value: text, Type: TypeString},
	}}, nil
}

func handleKnowledgeRetrieval(ctx context.Context, retriever Retriever, nodeID string, cfg KnowledgeRetrievalConfig, store *OutputStore) (NodeResult, error) {
	q, err := Resolve(cfg.Query.Value, store)
	if err != nil {
		return NodeResult{}, withNode(err, nodeID)
	}

	text, err := retriever.Retrieve(ctx, q.String())
	if err != nil {
		return NodeResult{}, externalServiceError(nodeID, "knowledge retrieval", err)
	}
	return NodeResult{Outputs: map[string]TypedValue{
		OutputContext: {Value: text, Type: TypeString},
	}}, nil
}

func handleEnd(nodeID string, cfg EndConfig, store *OutputStore) (NodeResult, error) {
	if cfg.Input == nil {
		empty := TypedValue{Value: "", Type: TypeString}
		return NodeResult{FinalOutput: &empty}, nil
	}
	v, err := Resolve(cfg.Input.Value, store)
	if err != nil {
		return NodeResult{}, withNode(err, nodeID)
	}
	return NodeResult{FinalOutput: &v}, nil
}

// checkSeed validates seed values against the Start node's declarations.
func checkSeed(start Node, seed map[string]TypedValue) error {
	cfg, _ := start.Config.(StartConfig)
	for _, decl := range cfg.Outputs {
		v, ok := seed[decl.Name]
		if !ok {
			if decl.Required {
				return types.Errorf(types.ErrUnresolvedReference, "required input %q not provided", decl.Name).WithNode(start.ID)
			}
			continue
		}
		if decl.Type != "" && !seedTypeMatches(decl.Type, v.Type) {
			return types.Errorf(types.ErrTypeMismatch, "input %q is %s, declared %s", decl.Name, v.Type, decl.Type).WithNode(start.ID)
		}
	}
	return nil
}

func seedTypeMatches(declared, actual ValueType) bool {
	return declared == actual || (declared == TypeFloat && actual == TypeInteger)
}
