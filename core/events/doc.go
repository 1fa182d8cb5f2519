// Package events defines the wire event contract of the conversational agent
// protocol.
//
// Inbound events are delivered by the transport as [Envelope] values: a name
// plus a raw JSON payload. Every inbound kind has a Decode function that never
// fails to produce a usable value. Missing or malformed fields fall back to
// their zero value and the returned error only reports what was wrong with the
// payload.
//
// Lifecycle events
//
//   - connect: transport established.
//   - disconnect: transport lost.
//   - error: transport-level failure, optional message.
//
// Turn progress events
//
//   - processing_status: server-side processing stage of the in-flight turn
//     ("stt", "llm", "tts" or anything else).
//   - audio_stream_start: a new synthesized audio stream begins.
//   - audio_chunk: one chunk of the streamed audio, in arrival order.
//   - audio_stream_complete: the audio stream ended.
//   - conversation_completed: terminal event of a turn carrying the user text,
//     the response text, timing and optionally the whole audio payload.
//
// Handoff events
//
//   - handoff_suggestion: the agent suggests moving to a human operator.
//   - human_handoff_initiated: a handoff ticket was created.
//
// Outbound events
//
//   - text_input: typed user input.
//   - audio_stream: recorded user audio.
//   - request_human_assistance: the user accepted a handoff.
package events
