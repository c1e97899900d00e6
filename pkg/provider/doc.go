// Package provider defines the boundary between verlauf and a model
// backend. A Provider turns a Request (the reconstructed item log plus the
// agent configuration) into a channel of RawEvents. Providers do not
// interpret the stream; the normalize package maps raw events into the
// engine's closed StreamEvent union.
//
// Raw events follow the OpenAI Responses API streaming vocabulary plus the
// run-level events of agent runtimes (run items, agent updates). The
// payload types in events.go are shared by the adapters and the
// normalizer.
package provider
