// Package notification reports archive runs to Telegram channels.
package notification

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/olegiv/evtx-archiver/internal/archive"
	internalerrors "github.com/olegiv/evtx-archiver/internal/errors"
)

const (
	maxMessageLength = 4096
	// minMessageInterval is the minimum time between messages to the same
	// channel to stay under Telegram rate limits.
	minMessageInterval = 1 * time.Second
	// maxRetries is the maximum number of attempts for sending a message
	maxRetries = 3
	// baseRetryDelay is the initial delay between retries (doubles each attempt)
	baseRetryDelay = 2 * time.Second
	// requestTimeout bounds a single Bot API request
	requestTimeout = 30 * time.Second
	// maxListedFiles caps the per-file lines in one report.
	maxListedFiles = 20
)

// botAPI is the part of *tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// TelegramClient handles Telegram notifications
type TelegramClient struct {
	bot             botAPI
	username        string
	archiveChannel  int64
	alertsChannel   int64
	hostname        string
	lastMessageTime time.Time
	sleep           func(time.Duration)
}

// NewTelegramClient creates a new Telegram client. A non-empty proxyURL
// routes Bot API requests through that proxy.
func NewTelegramClient(botToken string, archiveChannel, alertsChannel int64, proxyURL string) (*TelegramClient, error) {
	httpClient := &http.Client{Timeout: requestTimeout}
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, internalerrors.Wrapf(err, "invalid proxy URL")
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(botToken, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		// The token is part of the request URL and may show up in err.
		return nil, internalerrors.Wrapf(err, "failed to create Telegram bot")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &TelegramClient{
		bot:            bot,
		username:       bot.Self.UserName,
		archiveChannel: archiveChannel,
		alertsChannel:  alertsChannel,
		hostname:       hostname,
		sleep:          time.Sleep,
	}, nil
}

// ShouldAlert reports whether an outcome also goes to the alerts channel.
func ShouldAlert(outcome *archive.Outcome) bool {
	return outcome.Partial()
}

// SendArchiveReport sends the result of an archive run to the archive
// channel, and to the alerts channel when the run did not fully succeed.
func (t *TelegramClient) SendArchiveReport(outcome *archive.Outcome, duration time.Duration) error {
	message := t.formatMessage(outcome, duration)

	if err := t.sendToChannel(t.archiveChannel, message); err != nil {
		return fmt.Errorf("failed to send to archive channel: %w", err)
	}

	if t.alertsChannel != 0 && ShouldAlert(outcome) {
		if err := t.sendToChannel(t.alertsChannel, message); err != nil {
			return fmt.Errorf("failed to send to alerts channel: %w", err)
		}
	}
	return nil
}

// SendFailure reports a run that stopped on a fatal error. It goes to the
// alerts channel, or to the archive channel when no alerts channel is set.
func (t *TelegramClient) SendFailure(inputDir string, runErr error) error {
	channel := t.alertsChannel
	if channel == 0 {
		channel = t.archiveChannel
	}
	return t.sendToChannel(channel, t.formatFailure(inputDir, runErr))
}

func statusLine(outcome *archive.Outcome) (emoji, status string) {
	switch {
	case outcome.State == archive.StateAborted:
		return "🔴", "Verification failed, originals preserved"
	case outcome.State == archive.StateInterrupted:
		return "🟠", "Archived, run interrupted before deleting originals"
	case len(outcome.DeleteFailures) > 0:
		return "🟠", "Archived, some originals not deleted"
	case outcome.NothingFound() && len(outcome.Resumed) == 0:
		return "⚪", "No event logs found"
	case outcome.NothingFound():
		return "🟢", "Finished earlier deletions"
	default:
		return "🟢", "Archived and verified"
	}
}

// formatMessage formats an archive outcome as a MarkdownV2 message
func (t *TelegramClient) formatMessage(outcome *archive.Outcome, duration time.Duration) string {
	const listItemTemplate = "%d\\. %s\n"

	var msg strings.Builder

	emoji, status := statusLine(outcome)
	msg.WriteString("🗄 *Event Log Archive Report*\n")
	msg.WriteString(fmt.Sprintf("🖥 Host\\: %s\n", escapeMarkdown(t.hostname)))
	msg.WriteString(fmt.Sprintf("📅 Date\\: %s\n", escapeMarkdown(time.Now().Format("2006-01-02 15:04:05"))))
	msg.WriteString(fmt.Sprintf("%s *Status\\:* %s\n\n", emoji, escapeMarkdown(status)))

	msg.WriteString("📋 *Run Stats*\n")
	msg.WriteString(fmt.Sprintf("• Candidates\\: %d\n", len(outcome.Candidates)))
	msg.WriteString(fmt.Sprintf("• Deleted\\: %d\n", len(outcome.Deleted)))
	if len(outcome.Resumed) > 0 {
		msg.WriteString(fmt.Sprintf("• Resumed deletions\\: %d\n", len(outcome.Resumed)))
	}
	if len(outcome.Missing) > 0 {
		msg.WriteString(fmt.Sprintf("• Missing from archive\\: %d\n", len(outcome.Missing)))
	}
	if len(outcome.DeleteFailures) > 0 {
		msg.WriteString(fmt.Sprintf("• Delete failures\\: %d\n", len(outcome.DeleteFailures)))
	}
	msg.WriteString(fmt.Sprintf("• Duration\\: %s\n", escapeMarkdown(fmt.Sprintf("%.2fs", duration.Seconds()))))
	msg.WriteString("\n")

	if outcome.Archived() {
		msg.WriteString("📦 *Archive*\n")
		msg.WriteString(escapeMarkdown(outcome.ArchivePath))
		msg.WriteString("\n\n")
	}

	if len(outcome.Missing) > 0 {
		msg.WriteString(fmt.Sprintf("🔴 *Missing Files* \\(%d\\)\n", len(outcome.Missing)))
		writeList(&msg, outcome.Missing, listItemTemplate)
		msg.WriteString("\n")
	}

	if len(outcome.DeleteFailures) > 0 {
		failures := make([]string, len(outcome.DeleteFailures))
		for i, f := range outcome.DeleteFailures {
			failures[i] = fmt.Sprintf("%s: %v", filepath.Base(f.Path), internalerrors.SanitizeError(f.Err))
		}
		msg.WriteString(fmt.Sprintf("⚡ *Not Deleted* \\(%d\\)\n", len(failures)))
		writeList(&msg, failures, listItemTemplate)
		msg.WriteString("\n")
	}

	if outcome.Archived() && len(outcome.Candidates) > 0 {
		names := make([]string, len(outcome.Candidates))
		for i, c := range outcome.Candidates {
			names[i] = filepath.Base(c)
		}
		msg.WriteString("📄 *Archived Files*\n")
		writeList(&msg, names, listItemTemplate)
	}

	return msg.String()
}

func (t *TelegramClient) formatFailure(inputDir string, runErr error) string {
	var msg strings.Builder
	msg.WriteString("🗄 *Event Log Archive Report*\n")
	msg.WriteString(fmt.Sprintf("🖥 Host\\: %s\n", escapeMarkdown(t.hostname)))
	msg.WriteString(fmt.Sprintf("📅 Date\\: %s\n", escapeMarkdown(time.Now().Format("2006-01-02 15:04:05"))))
	msg.WriteString("🔴 *Status\\:* Run failed, nothing deleted\n\n")
	msg.WriteString(fmt.Sprintf("📁 Input\\: %s\n", escapeMarkdown(inputDir)))
	msg.WriteString(fmt.Sprintf("❗ Error\\: %s\n", escapeMarkdown(internalerrors.SanitizeError(runErr).Error())))
	return msg.String()
}

func writeList(msg *strings.Builder, items []string, template string) {
	for i, item := range items {
		if i == maxListedFiles {
			msg.WriteString(escapeMarkdown(fmt.Sprintf("... and %d more", len(items)-maxListedFiles)))
			msg.WriteString("\n")
			return
		}
		msg.WriteString(fmt.Sprintf(template, i+1, escapeMarkdown(item)))
	}
}

// sendToChannel sends a message to a Telegram channel with rate limiting
func (t *TelegramClient) sendToChannel(channelID int64, message string) error {
	for _, msg := range t.splitMessage(message) {
		t.waitForRateLimit()

		msgConfig := tgbotapi.NewMessage(channelID, msg)
		msgConfig.ParseMode = "MarkdownV2"

		if err := t.sendWithRetry(msgConfig); err != nil {
			return err
		}
		t.lastMessageTime = time.Now()
	}
	return nil
}

// waitForRateLimit ensures minimum interval between messages
func (t *TelegramClient) waitForRateLimit() {
	if t.lastMessageTime.IsZero() {
		return
	}
	if elapsed := time.Since(t.lastMessageTime); elapsed < minMessageInterval {
		t.sleep(minMessageInterval - elapsed)
	}
}

// sendWithRetry sends a message with exponential backoff retry
func (t *TelegramClient) sendWithRetry(msgConfig tgbotapi.MessageConfig) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(msgConfig)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRateLimitError(err) {
			if retryAfter := extractRetryAfter(err); retryAfter > 0 {
				t.sleep(time.Duration(retryAfter) * time.Second)
				continue
			}
		}

		if attempt < maxRetries {
			t.sleep(baseRetryDelay * time.Duration(1<<(attempt-1))) // 2s, 4s, 8s...
		}
	}

	return internalerrors.Wrapf(lastErr, "failed to send message after %d retries", maxRetries)
}

// isRateLimitError checks if the error is a Telegram rate limit error (429)
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests")
}

// extractRetryAfter extracts the retry_after value from a rate limit error,
// e.g. "Too Many Requests: retry after 30".
func extractRetryAfter(err error) int {
	if err == nil {
		return 0
	}

	errStr := err.Error()
	if idx := strings.Index(strings.ToLower(errStr), "retry after "); idx != -1 {
		var seconds int
		if _, err := fmt.Sscanf(errStr[idx+len("retry after "):], "%d", &seconds); err == nil {
			return seconds
		}
	}

	// Conservative default when the value cannot be read
	return 30
}

// splitMessage splits a long message into multiple messages
func (t *TelegramClient) splitMessage(message string) []string {
	if len(message) <= maxMessageLength {
		return []string{message}
	}

	var messages []string
	var currentMsg strings.Builder

	for _, line := range strings.Split(message, "\n") {
		if currentMsg.Len()+len(line)+1 > maxMessageLength {
			if currentMsg.Len() > 0 {
				messages = append(messages, currentMsg.String())
				currentMsg.Reset()
			}

			// A single line over the limit is cut into pieces
			if len(line) > maxMessageLength {
				for i := 0; i < len(line); i += maxMessageLength {
					end := min(i+maxMessageLength, len(line))
					messages = append(messages, line[i:end])
				}
				continue
			}
		}

		currentMsg.WriteString(line)
		currentMsg.WriteString("\n")
	}

	if currentMsg.Len() > 0 {
		messages = append(messages, currentMsg.String())
	}
	return messages
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
// See: https://core.telegram.org/bots/api#markdownv2-style
func escapeMarkdown(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune("\\_*[]()~`>#+-=|{}.!:", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetBotInfo returns information about the bot
func (t *TelegramClient) GetBotInfo() map[string]interface{} {
	return map[string]interface{}{
		"username":        t.username,
		"archive_channel": t.archiveChannel,
		"alerts_channel":  t.alertsChannel,
		"hostname":        t.hostname,
	}
}

// Close closes the Telegram client
func (t *TelegramClient) Close() error {
	t.bot.StopReceivingUpdates()
	return nil
}
