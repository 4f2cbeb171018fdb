// Package logging provides structured logging for proctord.
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Automatic context fields (trace_id, session.id, candidate.id, question.index)
//   - Redaction of candidate answer content and credentials
//
// Create a logger from config and log with context:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	logger.Info(ctx, "violation recorded", zap.String("category", "TAB_SWITCH"))
//
// Tests use NewTestLogger, which records entries in memory.
package logging
