// Package speech runs continuous speech-to-text capture for a session.
//
// The Engine keeps a recognizer stream open while recording is intended and
// transparently reopens it when the stream ends on its own (silence timeout,
// transient device error). Only Stop, Abort or a revoked microphone
// permission end capture.
package speech
