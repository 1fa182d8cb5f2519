package session

import (
	"context"
	"time"

	"github.com/koscakluka/ema-session/core/dedup"
	"github.com/koscakluka/ema-session/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// conversationReconciler turns completed-turn events into transcript entries,
// suppressing repeated deliveries of the same turn.
type conversationReconciler struct {
	transcript *transcript
	processing *processingStatusTracker
	dedup      *dedup.Cache
	assets     *audioAssets
	now        func() time.Time
}

// turnResult is the outcome of reconciling one completed turn.
type turnResult struct {
	// Delta holds the appended messages, empty for duplicates.
	Delta      []Message
	Duplicate  bool
	Processing ProcessingState
}

// Reconcile applies a completed turn. The whole turn is a single step: the
// user and agent messages are appended together and the processing state is
// cleared afterwards. Duplicates change nothing.
func (r *conversationReconciler) Reconcile(ctx context.Context, turn events.ConversationCompleted) turnResult {
	ctx, span := tracer.Start(ctx, "reconcile turn")
	defer span.End()

	userText := turn.UserText()
	fingerprint := dedup.Fingerprint(userText, turn.ProcessingTime, turn.ResponseText)
	if r.dedup.Observe(fingerprint) {
		span.SetAttributes(attribute.Bool("turn.duplicate", true))
		duplicatesCounter.Add(ctx, 1)
		logger.DebugContext(ctx, "ignoring duplicate conversation_completed event", "fingerprint", fingerprint)
		return turnResult{Duplicate: true, Processing: r.processing.State()}
	}

	now := r.now()
	batch := make([]Message, 0, 2)
	if userText != "" {
		batch = append(batch, newMessage(SenderUser, userText, now))
	}

	agentMessage := newMessage(SenderAgent, turn.ResponseText, now)
	if turn.AudioData != "" {
		asset, err := DecodeAudioAsset(turn.AudioData, turn.AudioFormat)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			audioDecodeFailuresCounter.Add(ctx, 1)
			logger.ErrorContext(ctx, "failed to create audio asset for agent message", "error", err)
		} else {
			r.assets.track(asset)
			agentMessage.Audio = asset
			agentMessage.ShouldAutoPlay = true
			span.SetAttributes(
				attribute.String("audio.mime_type", asset.MimeType),
				attribute.Int("audio.bytes", asset.Len()),
			)
		}
	}
	batch = append(batch, agentMessage)

	delta := r.transcript.append(batch...)
	processing := r.processing.Clear()

	turnsCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("turn.has_audio", agentMessage.Audio != nil)))
	span.SetAttributes(attribute.Int("turn.messages", len(delta)))
	return turnResult{Delta: delta, Processing: processing}
}
