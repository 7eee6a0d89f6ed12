package governance

import (
	"errors"
	"log/slog"

	"remedy-audit/internal/testutil"
)

// errTest is a sentinel error for test scenarios.
var errTest = errors.New("test error")

type mockAuditRepo = testutil.MockAuditRepo

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }
