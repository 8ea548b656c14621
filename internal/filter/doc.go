// Package filter implements the thumb-shift timing filter.
//
// A small set of keys can act either as independent keystrokes or as a
// chord, depending on how closely in time they are pressed:
//
//   - a character key together with a thumb-shift key ("lshift"/"rshift")
//     resolves to the character with ModLShift or ModRShift applied;
//   - two designated character keys, or both thumb-shift keys, resolve to a
//     synthesized "special double" event such as "[fj]";
//   - anything else resolves to the original keys in press order.
//
// # Architecture
//
//	host ──Process──► Engine ──enqueue──► pending queue (≤3, newest first)
//	                    │                      │
//	                    │◄──────classify───────┘
//	                    │
//	                    ├──► return value      (resolved synchronously)
//	                    └──► forward sink      (resolved out of band)
//
// The Engine owns one outstanding one-shot timer. Every Process call
// cancels it and arms a new one, so a key that never receives a
// disambiguating partner is still resolved once it goes stale.
//
// # Timing
//
// All timestamps are microseconds from an injected Clock. Two presses whose
// gap is at most Config.Overlap may form a chord; a pending key older than
// Config.Timeout is forced to resolve.
//
// # Concurrency
//
// The Engine performs no locking. Process, Reset, Reconfigure and timer
// callbacks must all run on one logical thread, typically an
// eventloop.Loop whose Scheduler is passed with WithScheduler.
package filter
