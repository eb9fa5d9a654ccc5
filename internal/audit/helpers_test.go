package audit

import (
	"context"
	"testing"

	"github.com/lumenlabs/lumen/internal/logging"
)

func contextWithCorrelation(t *testing.T) context.Context {
	t.Helper()
	return logging.WithCorrelationID(context.Background(), "")
}
