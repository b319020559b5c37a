// Package dispatch consumes inbound chat events and answers tracked channel
// posts.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"replybot/pkg/album"
	"replybot/pkg/bus"
	"replybot/pkg/channel"
	"replybot/pkg/membership"
	"replybot/pkg/pacing"
	providertypes "replybot/pkg/provider/types"
	"replybot/pkg/reply"
)

const (
	defaultCeiling       = 30 * time.Second
	defaultMaxImageBytes = 15 << 20
	defaultMaxConcurrent = 4
	defaultDrainTimeout  = 45 * time.Second
	previewRunes         = 50
)

// Source yields inbound events until it is closed or ctx ends.
type Source interface {
	ConsumeInbound(ctx context.Context) (channel.Event, bool)
}

// Client is the part of channel.Client used to answer posts.
type Client interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int64) error
	DownloadMedia(ctx context.Context, ref channel.MediaRef, limit int64) (providertypes.Image, error)
}

type Tracker interface {
	Snapshot() *membership.TrackedSet
}

type Replier interface {
	Generate(ctx context.Context, in reply.Input) (reply.Result, error)
	Fallback(cause error) reply.Result
}

type Pacer interface {
	HumanDelay(ctx context.Context, r pacing.Range) error
	OnRateLimited(ctx context.Context, wait time.Duration) error
	Throttle(ctx context.Context) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

type Options struct {
	StartTime     time.Time
	ReplyChance   float64
	AlbumGrace    time.Duration
	MaxImageBytes int64
	MaxConcurrent int
	DrainTimeout  time.Duration
	ReplyDelay    pacing.Range
	// Ceiling bounds a whole generation call independently of the pipeline.
	Ceiling time.Duration
	Random  func() float64
	Events  EventPublisher
	Logger  *slog.Logger
}

type Dispatcher struct {
	client  Client
	tracker Tracker
	replier Replier
	pacer   Pacer
	events  EventPublisher
	albums  *album.Deduplicator
	opts    Options
	log     *slog.Logger

	inFlight atomic.Int64
	handled  atomic.Int64
}

func New(client Client, tracker Tracker, replier Replier, pacer Pacer, opts Options) *Dispatcher {
	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now()
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = defaultMaxImageBytes
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = defaultCeiling
	}
	if opts.Random == nil {
		opts.Random = rand.Float64
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		client:  client,
		tracker: tracker,
		replier: replier,
		pacer:   pacer,
		events:  opts.Events,
		albums:  album.New(opts.AlbumGrace),
		opts:    opts,
		log:     log.With("component", "dispatch"),
	}
}

// InFlight returns the number of posts currently being answered.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Handled returns the number of posts admitted since start.
func (d *Dispatcher) Handled() int64 {
	return d.handled.Load()
}

// Run consumes events until ctx ends or source closes, then gives in-flight
// replies up to the drain timeout to finish.
func (d *Dispatcher) Run(ctx context.Context, source Source) error {
	if source == nil {
		return errors.New("dispatch source is required")
	}

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	group := new(errgroup.Group)
	group.SetLimit(d.opts.MaxConcurrent)

	d.log.Info("Dispatcher started", "start_time", d.opts.StartTime.UTC().Format(time.RFC3339), "workers", d.opts.MaxConcurrent)
	for {
		event, ok := source.ConsumeInbound(ctx)
		if !ok {
			break
		}

		post, admitted := d.admit(event)
		if !admitted {
			continue
		}

		d.handled.Add(1)
		d.inFlight.Add(1)
		eventID := uuid.NewString()
		group.Go(func() error {
			defer d.inFlight.Add(-1)
			d.handle(workCtx, eventID, post)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	if n := d.inFlight.Load(); n > 0 {
		d.log.Info("Waiting for in-flight replies", "in_flight", n, "timeout", d.opts.DrainTimeout.String())
	}

	timer := time.NewTimer(d.opts.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		d.log.Warn("Drain timeout reached, abandoning in-flight replies", "in_flight", d.inFlight.Load())
		cancelWork()
		<-done
	}

	d.log.Info("Dispatcher stopped", "handled", d.handled.Load())
	return nil
}

// admit applies the cheap filters in arrival order so album parts are
// suppressed before any slow work starts.
func (d *Dispatcher) admit(event channel.Event) (channel.PostEvent, bool) {
	post, ok := event.(channel.PostEvent)
	if !ok {
		return channel.PostEvent{}, false
	}

	if post.Timestamp.Before(d.opts.StartTime) {
		d.log.Debug("Ignoring message older than start", "chat_id", post.ChatID, "message_id", post.MessageID)
		return channel.PostEvent{}, false
	}

	if post.HasAlbum() {
		if d.albums.Seen(post.AlbumID) {
			d.log.Info("Ignoring duplicate message from album", "album_id", post.AlbumID, "chat_id", post.ChatID)
			return channel.PostEvent{}, false
		}
		d.albums.ReleaseAfter(post.AlbumID, d.albums.Grace())
		d.log.Debug("Processing new album", "album_id", post.AlbumID)
	}

	if !post.IsChannelPost || !d.tracker.Snapshot().Contains(post.ChatID) {
		return channel.PostEvent{}, false
	}

	return post, true
}

func (d *Dispatcher) handle(ctx context.Context, eventID string, post channel.PostEvent) {
	log := d.log.With("event_id", eventID, "chat_id", post.ChatID, "message_id", post.MessageID)
	log.Info("Matched post in channel", "channel", post.ChatTitle, "text", preview(post.Text))

	if d.opts.ReplyChance < 1 {
		if u := d.opts.Random(); u > d.opts.ReplyChance {
			log.Info("Skipping post by reply chance", "draw", u, "chance", d.opts.ReplyChance)
			d.publish(ctx, eventID, post, bus.EventReplySkipped, bus.ReasonChance, 0, nil)
			return
		}
	}

	image := d.downloadImage(ctx, log, post)
	if reply.Normalize(post.Text) == "" && image == nil {
		log.Info("No text or image found in this part of the post, skipping reply")
		d.publish(ctx, eventID, post, bus.EventReplySkipped, bus.ReasonNoContent, 0, nil)
		return
	}

	startedAt := time.Now()
	result, err := reply.Bounded(ctx, d.opts.Ceiling, func(ctx context.Context) (reply.Result, error) {
		return d.replier.Generate(ctx, reply.Input{Text: post.Text, Image: image})
	})
	elapsed := time.Since(startedAt)
	switch {
	case errors.Is(err, reply.ErrSkip):
		log.Info("Post did not generate a reply, skipped")
		d.publish(ctx, eventID, post, bus.EventReplySkipped, bus.ReasonNoContent, elapsed, nil)
		return
	case err != nil:
		log.Warn("Reply generation exceeded ceiling, sending fallback", "error", err)
		result = d.replier.Fallback(err)
	}
	if result.Text == "" {
		log.Info("Post did not generate a reply, skipped")
		d.publish(ctx, eventID, post, bus.EventReplySkipped, bus.ReasonNoContent, elapsed, nil)
		return
	}

	if err := d.pacer.HumanDelay(ctx, d.opts.ReplyDelay); err != nil {
		log.Warn("Reply abandoned during delay", "error", err)
		d.publish(ctx, eventID, post, bus.EventReplyFailed, bus.ReasonShuttingDown, elapsed, err)
		return
	}
	if err := d.pacer.Throttle(ctx); err != nil {
		log.Warn("Reply abandoned while throttled", "error", err)
		d.publish(ctx, eventID, post, bus.EventReplyFailed, bus.ReasonShuttingDown, elapsed, err)
		return
	}

	if err := d.send(ctx, post, result.Text); err != nil {
		reason := bus.ReasonSendFailed
		if _, limited := channel.AsRateLimit(err); limited {
			reason = bus.ReasonRateLimited
		}
		log.Error("Failed to send reply", "error", err)
		d.publish(ctx, eventID, post, bus.EventReplyFailed, reason, elapsed, err)
		return
	}

	reason := bus.ReasonGenerated
	if result.IsFallback {
		reason = bus.ReasonFallback
	}
	log.Info("Replied to post", "channel", post.ChatTitle, "fallback", result.IsFallback)
	d.publish(ctx, eventID, post, bus.EventReplySent, reason, elapsed, nil)
}

func (d *Dispatcher) send(ctx context.Context, post channel.PostEvent, text string) error {
	err := d.client.Send(ctx, post.ChatID, text, post.MessageID)
	wait, limited := channel.AsRateLimit(err)
	if !limited {
		return err
	}

	if sleepErr := d.pacer.OnRateLimited(ctx, wait); sleepErr != nil {
		return err
	}

	return d.client.Send(ctx, post.ChatID, text, post.MessageID)
}

func (d *Dispatcher) downloadImage(ctx context.Context, log *slog.Logger, post channel.PostEvent) *providertypes.Image {
	if !post.HasImage() {
		return nil
	}

	image, err := d.client.DownloadMedia(ctx, *post.Image, d.opts.MaxImageBytes)
	switch {
	case errors.Is(err, channel.ErrMediaTooLarge):
		log.Warn("Image too large, skipping", "limit_bytes", d.opts.MaxImageBytes)
		return nil
	case err != nil:
		log.Warn("Failed to download image from post", "error", err)
		return nil
	case len(image.Data) == 0:
		return nil
	}

	log.Info("Downloaded image", "bytes", len(image.Data))
	return &image
}

func (d *Dispatcher) publish(ctx context.Context, eventID string, post channel.PostEvent, kind bus.EventType, reason string, elapsed time.Duration, err error) {
	if d.events == nil {
		return
	}

	event := bus.Event{
		Type:      kind,
		EventID:   eventID,
		ChatID:    post.ChatID,
		MessageID: post.MessageID,
		Reason:    reason,
		Duration:  elapsed,
	}
	if err != nil {
		event.Error = err.Error()
	}
	d.events.PublishEvent(context.WithoutCancel(ctx), event)
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}

	runes := []rune(text)
	return string(runes[:previewRunes]) + "..."
}
