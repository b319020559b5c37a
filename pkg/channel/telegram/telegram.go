package telegram

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"replybot/pkg/channel"
	"replybot/pkg/config"
	providertypes "replybot/pkg/provider/types"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
)

const (
	messagePreviewLimit   = 240
	maxMessageRunes       = 4096
	defaultRequestTimeout = 30 * time.Second
	defaultFloodWait      = time.Second
)

var allowedUpdates = []string{"message", "channel_post", "edited_message", "edited_channel_post"}

var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)

// Client implements channel.Client on the Telegram Bot API.
type Client struct {
	bot            *telego.Bot
	token          string
	http           *http.Client
	requestTimeout time.Duration
	log            *slog.Logger

	selfMu sync.Mutex
	selfID int64

	linkMu      sync.Mutex
	links       map[int64]chatLink
	threads     *threadIndex
	commentWait time.Duration
}

// chatLink is the cached shape of a chat: channels comment through their
// linked discussion group, other chats take replies in place.
type chatLink struct {
	isChannel    bool
	discussionID int64
}

var _ channel.Client = (*Client)(nil)

// NewClient validates Telegram configuration and constructs the bot client.
func NewClient(cfg config.TelegramConfig, log *slog.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram.token is required (set TELEGRAM_BOT_TOKEN)")
	}

	if log == nil {
		log = slog.Default()
	}

	var opts []telego.BotOption
	if server := strings.TrimSpace(cfg.APIServer); server != "" {
		opts = append(opts, telego.WithAPIServer(strings.TrimRight(server, "/")))
	}

	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		bot:            bot,
		token:          token,
		http:           &http.Client{Timeout: 2 * timeout},
		requestTimeout: timeout,
		log:            log.With("component", "channel.telegram"),
		links:          make(map[int64]chatLink),
		threads:        newThreadIndex(),
		commentWait:    defaultCommentWait,
	}, nil
}

// Me returns the bot's own username for startup logs.
func (c *Client) Me(ctx context.Context) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("get bot identity: %w", err)
	}

	c.selfMu.Lock()
	c.selfID = me.ID
	c.selfMu.Unlock()

	return me.Username, nil
}

func (c *Client) Resolve(ctx context.Context, target string) (channel.ResolvedChannel, error) {
	chatID, err := parseTarget(target)
	if err != nil {
		return channel.ResolvedChannel{}, channel.NewError(channel.KindResolve, target, err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: chatID})
	if err != nil {
		return channel.ResolvedChannel{}, classify(channel.KindResolve, target, err)
	}

	link := c.rememberChat(chat)
	if link.isChannel && link.discussionID == 0 {
		c.log.Warn("Channel has comments disabled; replies will fail", "target", target, "chat_id", chat.ID)
	}

	return channel.ResolvedChannel{
		ID:           chat.ID,
		Title:        chat.Title,
		Username:     chat.Username,
		DiscussionID: chat.LinkedChatID,
	}, nil
}

// JoinByInvite is not available to bots; they must be added by an admin.
func (c *Client) JoinByInvite(_ context.Context, hash string) error {
	return channel.NewError(channel.KindJoin, "invite "+hash, channel.ErrUnsupported)
}

// Join confirms the bot is a member of ch. Bots cannot join channels on their
// own, so a missing membership is reported as ErrNotMember.
func (c *Client) Join(ctx context.Context, ch channel.ResolvedChannel) (channel.JoinResult, error) {
	target := ch.DisplayName()

	selfID, err := c.self(ctx)
	if err != nil {
		return 0, classify(channel.KindJoin, target, err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	member, err := c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{ChatID: tu.ID(ch.ID), UserID: selfID})
	if err != nil {
		return 0, classify(channel.KindJoin, target, err)
	}

	if !isMemberStatus(member.MemberStatus()) {
		return 0, channel.NewError(channel.KindJoin, target,
			fmt.Errorf("%w (status %q): add the bot to the channel as an administrator", channel.ErrNotMember, member.MemberStatus()))
	}

	return channel.AlreadyMember, nil
}

// Subscribe long-polls for updates and feeds them to sink until ctx ends.
func (c *Client) Subscribe(ctx context.Context, sink channel.Sink) error {
	if sink == nil {
		return errors.New("sink is required")
	}

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{AllowedUpdates: allowedUpdates})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	c.log.Info("Telegram subscription started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			if key, ok := automaticForward(update.Message); ok {
				c.threads.record(key, update.Message.Chat.ID, int64(update.Message.MessageID))
				c.log.Debug("Discussion thread opened", "channel_id", key.channelID, "post_id", key.postID, "discussion_id", update.Message.Chat.ID)
				continue
			}

			event := toEvent(update)
			if event == nil {
				continue
			}
			if post, isPost := event.(channel.PostEvent); isPost {
				c.log.Debug("Received post", "chat_id", post.ChatID, "message_id", post.MessageID, "channel_post", post.IsChannelPost, "text", previewText(post.Text))
			}

			if !sink.PublishInbound(ctx, event) {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("inbound sink closed")
			}
		}
	}
}

// Send comments on post replyTo of channel chatID. Channel comments are
// replies to the post's copy in the linked discussion group; other chats get
// an in-place reply.
func (c *Client) Send(ctx context.Context, chatID int64, text string, replyTo int64) error {
	target := strconv.FormatInt(chatID, 10)
	text = truncateRunes(strings.TrimSpace(text), maxMessageRunes)
	if text == "" {
		return channel.NewError(channel.KindSend, target, errors.New("empty message"))
	}

	link, err := c.chatLink(ctx, chatID)
	if err != nil {
		return classify(channel.KindSend, target, err)
	}

	destChat, destReply := chatID, replyTo
	if link.isChannel {
		if link.discussionID == 0 {
			return channel.NewError(channel.KindSend, target, channel.ErrNoDiscussion)
		}
		if replyTo <= 0 {
			return channel.NewError(channel.KindSend, target, errors.New("comment requires a post id"))
		}

		thread, ok := c.threads.wait(ctx, threadKey{channelID: chatID, postID: replyTo}, c.commentWait)
		if !ok {
			return channel.NewError(channel.KindSend, target,
				fmt.Errorf("post %d has no copy in discussion group %d", replyTo, link.discussionID))
		}
		destChat, destReply = thread.chatID, thread.messageID
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := tu.Message(tu.ID(destChat), text)
	if destReply > 0 {
		params = params.WithReplyParameters(&telego.ReplyParameters{
			MessageID:                int(destReply),
			AllowSendingWithoutReply: !link.isChannel,
		})
	}

	c.log.Info("Sending message", "chat_id", destChat, "reply_to", destReply, "channel_id", chatID, "post_id", replyTo, "content", previewText(text))
	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return classify(channel.KindSend, target, err)
	}

	return nil
}

func (c *Client) chatLink(ctx context.Context, chatID int64) (chatLink, error) {
	c.linkMu.Lock()
	link, ok := c.links[chatID]
	c.linkMu.Unlock()
	if ok {
		return link, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(chatID)})
	if err != nil {
		return chatLink{}, err
	}

	return c.rememberChat(chat), nil
}

func (c *Client) rememberChat(chat *telego.ChatFullInfo) chatLink {
	link := chatLink{isChannel: chat.Type == telego.ChatTypeChannel, discussionID: chat.LinkedChatID}

	c.linkMu.Lock()
	c.links[chat.ID] = link
	c.linkMu.Unlock()

	return link
}

// DownloadMedia fetches an attachment, refusing anything larger than limit.
func (c *Client) DownloadMedia(ctx context.Context, ref channel.MediaRef, limit int64) (providertypes.Image, error) {
	if ref.FileID == "" {
		return providertypes.Image{}, channel.NewError(channel.KindMedia, "", errors.New("missing file id"))
	}
	if limit > 0 && ref.Size > limit {
		return providertypes.Image{}, channel.NewError(channel.KindMedia, ref.FileID, channel.ErrMediaTooLarge)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: ref.FileID})
	if err != nil {
		return providertypes.Image{}, classify(channel.KindMedia, ref.FileID, err)
	}
	if limit > 0 && int64(file.FileSize) > limit {
		return providertypes.Image{}, channel.NewError(channel.KindMedia, ref.FileID, channel.ErrMediaTooLarge)
	}
	if strings.TrimSpace(file.FilePath) == "" {
		return providertypes.Image{}, channel.NewError(channel.KindMedia, ref.FileID, errors.New("file path unavailable"))
	}

	data, err := c.download(ctx, c.bot.FileDownloadURL(file.FilePath), limit)
	if err != nil {
		return providertypes.Image{}, channel.NewError(channel.KindMedia, ref.FileID, err)
	}

	mime := ref.MIME
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	return providertypes.Image{Data: data, MIME: mime}, nil
}

func (c *Client) download(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, redactToken(err, c.token)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("telegram download http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return readLimited(resp.Body, limit)
}

func (c *Client) self(ctx context.Context) (int64, error) {
	c.selfMu.Lock()
	id := c.selfID
	c.selfMu.Unlock()
	if id != 0 {
		return id, nil
	}

	if id, ok := botIDFromToken(c.token); ok {
		c.selfMu.Lock()
		c.selfID = id
		c.selfMu.Unlock()
		return id, nil
	}

	if _, err := c.Me(ctx); err != nil {
		return 0, err
	}

	c.selfMu.Lock()
	defer c.selfMu.Unlock()
	return c.selfID, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

// parseTarget maps numeric ids, @names, bare names and public t.me links to
// a chat id. Invite links cannot be resolved by bots.
func parseTarget(raw string) (telego.ChatID, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return telego.ChatID{}, errors.New("empty target")
	}

	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return tu.ID(id), nil
	}

	rest := strings.TrimPrefix(strings.TrimPrefix(target, "https://"), "http://")
	for _, host := range []string{"t.me/", "telegram.me/", "www.t.me/"} {
		if !strings.HasPrefix(rest, host) {
			continue
		}

		path := strings.TrimPrefix(rest, host)
		if cut := strings.IndexAny(path, "?#"); cut >= 0 {
			path = path[:cut]
		}
		if strings.HasPrefix(path, "+") || strings.HasPrefix(path, "joinchat/") {
			return telego.ChatID{}, fmt.Errorf("invite links cannot be resolved by bots: %w", channel.ErrUnsupported)
		}
		path = strings.TrimPrefix(path, "s/")
		name, _, _ := strings.Cut(path, "/")
		return usernameChatID(name)
	}

	return usernameChatID(strings.TrimPrefix(target, "@"))
}

func usernameChatID(name string) (telego.ChatID, error) {
	if !usernamePattern.MatchString(name) {
		return telego.ChatID{}, fmt.Errorf("invalid channel username %q", name)
	}

	return tu.Username("@" + name), nil
}

func isMemberStatus(status string) bool {
	switch status {
	case "creator", "administrator", "member", "restricted":
		return true
	default:
		return false
	}
}

// toEvent converts an update into a chat event, or nil for update kinds that
// carry no chat.
func toEvent(update telego.Update) channel.Event {
	switch {
	case update.ChannelPost != nil:
		return postEvent(update.ChannelPost, true)
	case update.Message != nil:
		return postEvent(update.Message, false)
	case update.EditedChannelPost != nil:
		return channel.OtherEvent{ChatID: update.EditedChannelPost.Chat.ID, Kind: "edited_channel_post"}
	case update.EditedMessage != nil:
		return channel.OtherEvent{ChatID: update.EditedMessage.Chat.ID, Kind: "edited_message"}
	default:
		return nil
	}
}

func postEvent(msg *telego.Message, isChannelPost bool) channel.PostEvent {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	return channel.PostEvent{
		ChatID:        msg.Chat.ID,
		ChatTitle:     msg.Chat.Title,
		MessageID:     int64(msg.MessageID),
		Timestamp:     time.Unix(msg.Date, 0),
		IsChannelPost: isChannelPost,
		Text:          text,
		Image:         imageRef(msg),
		AlbumID:       albumID(msg.MediaGroupID),
	}
}

// imageRef picks the largest photo size, or an image sent as a document.
func imageRef(msg *telego.Message) *channel.MediaRef {
	if n := len(msg.Photo); n > 0 {
		largest := msg.Photo[n-1]
		return &channel.MediaRef{FileID: largest.FileID, Size: int64(largest.FileSize), MIME: "image/jpeg"}
	}

	if doc := msg.Document; doc != nil && strings.HasPrefix(doc.MimeType, "image/") {
		return &channel.MediaRef{FileID: doc.FileID, Size: int64(doc.FileSize), MIME: doc.MimeType}
	}

	return nil
}

// albumID turns a media group id into a non-zero integer key.
func albumID(mediaGroupID string) int64 {
	mediaGroupID = strings.TrimSpace(mediaGroupID)
	if mediaGroupID == "" {
		return 0
	}

	if id, err := strconv.ParseInt(mediaGroupID, 10, 64); err == nil && id != 0 {
		return id
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(mediaGroupID))
	id := int64(h.Sum64() &^ (1 << 63))
	if id == 0 {
		id = 1
	}

	return id
}

// classify wraps err with kind and turns Bot API flood waits into
// *channel.RateLimitError.
func classify(kind string, target string, err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) && apiErr.ErrorCode == http.StatusTooManyRequests {
		return channel.NewError(kind, target, &channel.RateLimitError{Wait: retryAfter(apiErr)})
	}

	return channel.NewError(kind, target, err)
}

func retryAfter(apiErr *telegoapi.Error) time.Duration {
	if apiErr == nil || apiErr.Parameters == nil || apiErr.Parameters.RetryAfter <= 0 {
		return defaultFloodWait
	}

	return time.Duration(apiErr.Parameters.RetryAfter) * time.Second
}

func botIDFromToken(token string) (int64, bool) {
	prefix, _, found := strings.Cut(token, ":")
	if !found {
		return 0, false
	}

	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, channel.ErrMediaTooLarge
	}

	return data, nil
}

func redactToken(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}

	return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit])
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return truncateRunes(trimmed, messagePreviewLimit) + "..."
}
