package workflow

import (
	"fmt"

	"github.com/BaSui01/flowrun/types"
)

// Sentinel errors, one per failure class. They match with errors.Is against
// any *types.Error carrying the same code, whatever its node or message.
var (
	ErrStructural          = &types.Error{Code: types.ErrStructural}
	ErrUnresolvedReference = &types.Error{Code: types.ErrUnresolvedReference}
	ErrTypeMismatch        = &types.Error{Code: types.ErrTypeMismatch}
	ErrDuplicateOutput     = &types.Error{Code: types.ErrDuplicateOutput}
	ErrExternalService     = &types.Error{Code: types.ErrExternalService}
	ErrRecursionLimit      = &types.Error{Code: types.ErrRecursionLimit}
	ErrMissingCollaborator = &types.Error{Code: types.ErrMissingCollaborator}
)

func structuralError(nodeID, format string, args ...any) *types.Error {
	return types.Errorf(types.ErrStructural, format, args...).WithNode(nodeID)
}

func typeMismatch(format string, args ...any) *types.Error {
	return types.Errorf(types.ErrTypeMismatch, format, args...)
}

func externalServiceError(nodeID, service string, cause error) *types.Error {
	return types.Errorf(types.ErrExternalService, "%s call failed", service).
		WithNode(nodeID).
		WithCause(cause).
		WithRetryable(types.IsRetryable(cause))
}

// withNode stamps nodeID onto a *types.Error that has none yet.
func withNode(err error, nodeID string) error {
	if e, ok := err.(*types.Error); ok && e.NodeID == "" {
		e.NodeID = nodeID
		return e
	}
	if err != nil && types.GetErrorCode(err) == "" {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}
	return err
}
