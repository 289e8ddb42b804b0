// Package detector provides the TCP client that drives an RCS detector subsystem through its
// line-oriented control port.
//
// The client replays an ordered command list loaded from a configuration file and records every
// command and reply to a transcript for offline analysis. The device protocol has no acknowledgment and
// no length framing, so the client keeps one command in flight by timing alone and infers reply
// boundaries from newlines and silence.
//
// Components:
//   - Client: owns the socket lifecycle, reconnects forever on a fixed interval, and spawns a receiver
//     and a sender task per connection.
//   - sender: walks the command list once per connection, waiting on the quiescence gate before
//     each command.
//   - Framer: splits the reply stream into lines, detects command echoes, flushes partial lines after
//     an idle gap, and aggregates multi-line replies.
//   - SessionState: the command cursor, connection generation and quiescence flags under one lock.
//     Blocked() is the quiescence gate consulted by the sender.
//
// Command issuance is suspended while the status command reports a non-zero recv error, sample error or
// angle error, and resumes when the field is reported back at zero. A zero recv counter is reported as
// data starvation and only suspends issuance when WithStarvationGating(true) is set. Quiescence survives
// reconnects; Client.ClearQuiescence resets it.
//
// Example:
//
//	cfg, err := detector.NewConnectionConfig("192.168.1.10", 8000,
//		detector.WithCommandFile("sscom51.ini"),
//		detector.WithTranscript(w),
//	)
//	if err != nil {
//		return err
//	}
//	client, _ := detector.NewClient(cfg)
//	go client.Run(ctx)
//	...
//	client.Stop()
package detector
