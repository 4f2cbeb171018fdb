// Package bridge connects sessions to the candidate device over NATS.
//
// Every session owns the subject tree <prefix>.<session>.<capability>. The
// device answers request/reply subjects for full screen, display probing,
// media, narration and speech capture, and streams recognition results on a
// per-stream subject:
//
//	<prefix>.<sid>.fullscreen.enter   request  -> reply
//	<prefix>.<sid>.display.count      request  -> reply{count}
//	<prefix>.<sid>.media.stop         request  -> reply
//	<prefix>.<sid>.tts.speak          request  -> reply when playback ends
//	<prefix>.<sid>.tts.cancel         publish
//	<prefix>.<sid>.stt.start          request  -> reply
//	<prefix>.<sid>.stt.<stream>       device publishes results
//	<prefix>.<sid>.stt.stop           publish
//
// Integrity events go to a JetStream stream through AuditSink.
package bridge
