// Package telegram delivers formatted messages through the Telegram Bot API.
//
// A Client holds configuration only; bot instances are built per call from
// the caller's token, so one Client can be shared by every worker.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
)

const (
	// MaxCaptionLength is the Bot API limit for photo/document captions.
	MaxCaptionLength = 1024
	captionKeep      = 1020
	captionEllipsis  = "..."
)

// Method is the Bot API endpoint a delivery goes through.
type Method string

const (
	MethodMessage  Method = "sendMessage"
	MethodPhoto    Method = "sendPhoto"
	MethodDocument Method = "sendDocument"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// RouteFor picks the endpoint for an attachment path ("" means none).
func RouteFor(attachmentPath string) Method {
	if attachmentPath == "" {
		return MethodMessage
	}
	if imageExtensions[strings.ToLower(filepath.Ext(attachmentPath))] {
		return MethodPhoto
	}
	return MethodDocument
}

// Destination is a parsed chat address. ThreadID is zero for plain chats.
type Destination struct {
	ChatID   string
	ThreadID int
}

// ParseDestination splits "<chat_id>_<thread_id>" forum-topic addresses.
// Anything that is not two numeric parts is used verbatim as the chat id.
func ParseDestination(raw string) Destination {
	raw = strings.TrimSpace(raw)
	idx := strings.LastIndex(raw, "_")
	if idx <= 0 || idx == len(raw)-1 {
		return Destination{ChatID: raw}
	}
	chat, thread := raw[:idx], raw[idx+1:]
	if _, err := strconv.ParseInt(chat, 10, 64); err != nil {
		return Destination{ChatID: raw}
	}
	threadID, err := strconv.Atoi(thread)
	if err != nil || threadID <= 0 {
		return Destination{ChatID: raw}
	}
	return Destination{ChatID: chat, ThreadID: threadID}
}

// TruncateCaption caps a caption at MaxCaptionLength characters.
func TruncateCaption(caption string) string {
	if utf8.RuneCountInString(caption) <= MaxCaptionLength {
		return caption
	}
	runes := []rune(caption)
	return string(runes[:captionKeep]) + captionEllipsis
}

// Outcome classifies a delivery attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeTransient failures may succeed when retried.
	OutcomeTransient
	// OutcomePermanent failures will not change on retry.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Result is the uniform value returned by Send. Detail is a redacted,
// human-readable description of a failure.
type Result struct {
	Outcome  Outcome
	Method   Method
	Response json.RawMessage
	Detail   string
}

func (r Result) OK() bool { return r.Outcome == OutcomeOK }

// Options configures a Client.
type Options struct {
	ServerURL     string
	Timeout       time.Duration
	UploadTimeout time.Duration
	HTTPClient    *http.Client
}

// Client sends messages to Telegram. Safe for concurrent use.
type Client struct {
	serverURL     string
	timeout       time.Duration
	uploadTimeout time.Duration
	httpClient    *http.Client
	logger        *logrus.Entry
}

func NewClient(opts Options, logger *logrus.Entry) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 60 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.UploadTimeout}
	}
	return &Client{
		serverURL:     strings.TrimRight(opts.ServerURL, "/"),
		timeout:       opts.Timeout,
		uploadTimeout: opts.UploadTimeout,
		httpClient:    opts.HTTPClient,
		logger:        logger,
	}
}

// Send delivers message to destination, attaching the file at
// attachmentPath when it is not empty. It never returns an error: every
// failure is folded into the Result.
func (c *Client) Send(ctx context.Context, authToken, destination, message, attachmentPath string) Result {
	method := RouteFor(attachmentPath)
	dest := ParseDestination(destination)

	if strings.TrimSpace(authToken) == "" {
		return Result{Outcome: OutcomePermanent, Method: method, Detail: "missing bot token"}
	}
	if dest.ChatID == "" {
		return Result{Outcome: OutcomePermanent, Method: method, Detail: "missing chat id"}
	}

	var file *os.File
	if method != MethodMessage {
		f, err := os.Open(attachmentPath)
		if err != nil {
			c.logger.WithField("file", filepath.Base(attachmentPath)).Errorf("Attachment not readable: %v", err)
			if errors.Is(err, os.ErrNotExist) {
				return Result{Outcome: OutcomePermanent, Method: method, Detail: "File not found: " + filepath.Base(attachmentPath)}
			}
			return Result{Outcome: OutcomePermanent, Method: method, Detail: "File not readable: " + filepath.Base(attachmentPath)}
		}
		defer f.Close()
		file = f
	}

	timeout := c.timeout
	if file != nil {
		timeout = c.uploadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(timeout, c.httpClient),
	}
	if c.serverURL != "" {
		opts = append(opts, bot.WithServerURL(c.serverURL))
	}
	b, err := bot.New(authToken, opts...)
	if err != nil {
		return Result{Outcome: OutcomePermanent, Method: method, Detail: Redact(err.Error(), authToken)}
	}

	log := c.logger.WithFields(logrus.Fields{
		"method":    string(method),
		"chat_id":   dest.ChatID,
		"thread_id": dest.ThreadID,
	})
	log.Info("Sending Telegram message")

	caption := TruncateCaption(message)
	if method != MethodMessage && caption != message {
		log.Warnf("Caption exceeds %d characters, truncating (length %d)", MaxCaptionLength, utf8.RuneCountInString(message))
	}

	var msg *models.Message
	switch method {
	case MethodMessage:
		msg, err = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:          dest.ChatID,
			MessageThreadID: dest.ThreadID,
			Text:            message,
			ParseMode:       models.ParseModeHTML,
		})
	case MethodPhoto:
		msg, err = b.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:          dest.ChatID,
			MessageThreadID: dest.ThreadID,
			Photo:           &models.InputFileUpload{Filename: filepath.Base(attachmentPath), Data: file},
			Caption:         caption,
			ParseMode:       models.ParseModeHTML,
		})
	case MethodDocument:
		msg, err = b.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:          dest.ChatID,
			MessageThreadID: dest.ThreadID,
			Document:        &models.InputFileUpload{Filename: filepath.Base(attachmentPath), Data: file},
			Caption:         caption,
			ParseMode:       models.ParseModeHTML,
		})
	}
	if err != nil {
		detail := Redact(err.Error(), authToken)
		log.Errorf("Telegram API error: %s", detail)
		return Result{Outcome: OutcomeTransient, Method: method, Detail: detail}
	}

	raw, _ := json.Marshal(msg)
	log.Info("Telegram message delivered")
	return Result{Outcome: OutcomeOK, Method: method, Response: raw}
}

var tokenInURL = regexp.MustCompile(`bot\d+:[A-Za-z0-9_-]+`)

// Redact removes bot tokens from text that may end up in logs or storage.
func Redact(text, token string) string {
	if token != "" {
		text = strings.ReplaceAll(text, token, "<redacted>")
	}
	return tokenInURL.ReplaceAllString(text, "bot<redacted>")
}

