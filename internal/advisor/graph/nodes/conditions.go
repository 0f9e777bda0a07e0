package nodes

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// NewProfileCondition sends turns that need a chart lookup through the tool node.
func NewProfileCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, msg *schema.Message) (string, error) {
		if msg != nil && len(msg.ToolCalls) > 0 {
			return NodeProfileTool, nil
		}
		return NodeClassifier, nil
	}
}

// NewGroundingCondition picks the grounded prompt only when a full path was resolved.
func NewGroundingCondition() func(context.Context, Resolved) (string, error) {
	return func(ctx context.Context, r Resolved) (string, error) {
		if r.Path != nil {
			return NodeGroundedAssembler, nil
		}
		return NodeGeneralAssembler, nil
	}
}
