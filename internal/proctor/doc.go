// Package proctor drives a single candidate through a proctored interview.
//
// An Orchestrator owns the session State on one goroutine (Run). Every
// public method is marshalled onto that goroutine through a command
// channel, and every asynchronous source (speech results, narration
// completion, answer submission and grading, full-screen changes, timers,
// the violation tracker's termination signal) reports back on the same
// loop. No session state is touched from any other goroutine.
//
// Phases:
//
//	AWAITING_FULLSCREEN -> ACTIVE -> ... -> COMPLETED
//	                \          \
//	                 +----------+-> TERMINATED
//
// ACTIVE returns to AWAITING_FULLSCREEN when the candidate leaves full
// screen and resumes, without re-narrating, when full screen is restored.
package proctor
