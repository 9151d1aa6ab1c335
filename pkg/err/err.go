package errprocess

import (
	"meowchat_client/pkg/logger"

	"go.uber.org/zap"
)

// Surface log a failed operation at the store boundary and hand the same error back to the caller
func Surface(op string, err error, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	logger.Log.Error(op+" failed", append(fields, zap.Error(err))...)
	return err
}
