package service

import "context"

type contextKey string

const operatorKey contextKey = "operator"

// OperatorInfo identifies who is acting on the queue.
type OperatorInfo struct {
	UserID   string
	Name     string
	Role     string
	Terminal string
}

func WithOperator(ctx context.Context, op *OperatorInfo) context.Context {
	return context.WithValue(ctx, operatorKey, op)
}

func OperatorFrom(ctx context.Context) *OperatorInfo {
	op, _ := ctx.Value(operatorKey).(*OperatorInfo)
	return op
}

// OperatorName is used in audit logs. Background work logs as "coordinator".
func OperatorName(ctx context.Context) string {
	op := OperatorFrom(ctx)
	if op == nil {
		return "coordinator"
	}
	if op.Terminal != "" {
		return op.Name + "@" + op.Terminal
	}
	return op.Name
}
