package notification

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/olegiv/evtx-archiver/internal/archive"
)

// fakeBot records sent messages; failures makes the first N sends fail.
type fakeBot struct {
	sent     []tgbotapi.MessageConfig
	failures int
	err      error
	stopped  bool
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.failures > 0 {
		f.failures--
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) StopReceivingUpdates() { f.stopped = true }

func newTestClient(bot *fakeBot, alerts int64) (*TelegramClient, *[]time.Duration) {
	var sleeps []time.Duration
	return &TelegramClient{
		bot:            bot,
		archiveChannel: 100,
		alertsChannel:  alerts,
		hostname:       "test-server",
		sleep:          func(d time.Duration) { sleeps = append(sleeps, d) },
	}, &sleeps
}

func successOutcome() *archive.Outcome {
	return &archive.Outcome{
		ArchivePath: "/archives/event_logs_2026-03-04T05_06_07Z.tar.xz",
		Candidates:  []string{"/in/WIN-ABC123-Application.evtx", "/in/WIN-ABC123-System.evtx"},
		Deleted:     []string{"/in/WIN-ABC123-Application.evtx", "/in/WIN-ABC123-System.evtx"},
		State:       archive.StateDeleting,
	}
}

func TestFormatMessage_Success(t *testing.T) {
	client, _ := newTestClient(&fakeBot{}, 0)

	message := client.formatMessage(successOutcome(), 1500*time.Millisecond)

	for _, want := range []string{
		"*Event Log Archive Report*",
		"Host\\: test\\-server",
		"Archived and verified",
		"Candidates\\: 2",
		"Deleted\\: 2",
		"Duration\\: 1\\.50s",
		"event\\_logs\\_2026\\-03\\-04T05\\_06\\_07Z\\.tar\\.xz",
		"1\\. WIN\\-ABC123\\-Application\\.evtx",
	} {
		if !strings.Contains(message, want) {
			t.Errorf("Message missing %q:\n%s", want, message)
		}
	}
	if strings.Contains(message, "Missing Files") {
		t.Error("Successful run should not list missing files")
	}
}

func TestFormatMessage_Aborted(t *testing.T) {
	client, _ := newTestClient(&fakeBot{}, 0)
	outcome := &archive.Outcome{
		Candidates: []string{"/in/a.evtx", "/in/b.evtx", "/in/c.evtx"},
		Missing:    []string{"b.evtx"},
		State:      archive.StateAborted,
	}

	message := client.formatMessage(outcome, time.Second)

	for _, want := range []string{
		"Verification failed, originals preserved",
		"Missing from archive\\: 1",
		"*Missing Files* \\(1\\)",
		"1\\. b\\.evtx",
	} {
		if !strings.Contains(message, want) {
			t.Errorf("Message missing %q:\n%s", want, message)
		}
	}
	if strings.Contains(message, "*Archive*") {
		t.Error("Aborted run has no archive to report")
	}
}

func TestFormatMessage_DeleteFailures(t *testing.T) {
	client, _ := newTestClient(&fakeBot{}, 0)
	outcome := successOutcome()
	outcome.Deleted = outcome.Deleted[:1]
	outcome.DeleteFailures = []archive.DeleteFailure{
		{Path: "/in/WIN-ABC123-System.evtx", Err: errors.New("permission denied")},
	}

	message := client.formatMessage(outcome, time.Second)

	if !strings.Contains(message, "some originals not deleted") {
		t.Errorf("Status should mention delete failures:\n%s", message)
	}
	if !strings.Contains(message, "WIN\\-ABC123\\-System\\.evtx\\: permission denied") {
		t.Errorf("Failure line missing:\n%s", message)
	}
}

func TestFormatMessage_Interrupted(t *testing.T) {
	client, _ := newTestClient(&fakeBot{}, 0)
	outcome := successOutcome()
	outcome.Deleted = nil
	outcome.State = archive.StateInterrupted

	message := client.formatMessage(outcome, time.Second)

	for _, want := range []string{
		"run interrupted before deleting originals",
		"Deleted\\: 0",
		"event\\_logs\\_2026\\-03\\-04T05\\_06\\_07Z\\.tar\\.xz",
		"*Archived Files*",
	} {
		if !strings.Contains(message, want) {
			t.Errorf("Message missing %q:\n%s", want, message)
		}
	}
	if strings.Contains(message, "nothing deleted") {
		t.Errorf("Interrupted run kept a verified archive:\n%s", message)
	}
}

func TestFormatMessage_LongListIsCapped(t *testing.T) {
	client, _ := newTestClient(&fakeBot{}, 0)
	outcome := successOutcome()
	outcome.Candidates = nil
	for i := 0; i < maxListedFiles+5; i++ {
		outcome.Candidates = append(outcome.Candidates, "/in/x.evtx")
	}

	message := client.formatMessage(outcome, time.Second)
	if !strings.Contains(message, "\\.\\.\\. and 5 more") {
		t.Errorf("Expected truncated list:\n%s", message)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"a.b", "a\\.b"},
		{`C:\Logs\a.evtx`, `C\:\\Logs\\a\.evtx`},
		{"[x](y)", "\\[x\\]\\(y\\)"},
		{"1-2_3", "1\\-2\\_3"},
	}

	for _, tt := range tests {
		if got := escapeMarkdown(tt.input); got != tt.want {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSendArchiveReport_Routing(t *testing.T) {
	tests := []struct {
		name         string
		outcome      *archive.Outcome
		alerts       int64
		wantChannels []int64
	}{
		{name: "success without alerts channel", outcome: successOutcome(), wantChannels: []int64{100}},
		{name: "success with alerts channel", outcome: successOutcome(), alerts: 200, wantChannels: []int64{100}},
		{
			name:         "aborted goes to alerts",
			outcome:      &archive.Outcome{State: archive.StateAborted, Missing: []string{"a.evtx"}},
			alerts:       200,
			wantChannels: []int64{100, 200},
		},
		{
			name:         "interrupted goes to alerts",
			outcome:      &archive.Outcome{State: archive.StateInterrupted, Candidates: []string{"/in/a.evtx"}},
			alerts:       200,
			wantChannels: []int64{100, 200},
		},
		{
			name:         "aborted without alerts channel",
			outcome:      &archive.Outcome{State: archive.StateAborted, Missing: []string{"a.evtx"}},
			wantChannels: []int64{100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &fakeBot{}
			client, _ := newTestClient(bot, tt.alerts)

			if err := client.SendArchiveReport(tt.outcome, time.Second); err != nil {
				t.Fatalf("SendArchiveReport() error: %v", err)
			}

			if len(bot.sent) != len(tt.wantChannels) {
				t.Fatalf("Sent %d messages, want %d", len(bot.sent), len(tt.wantChannels))
			}
			for i, ch := range tt.wantChannels {
				if bot.sent[i].ChatID != ch {
					t.Errorf("Message %d went to %d, want %d", i, bot.sent[i].ChatID, ch)
				}
				if bot.sent[i].ParseMode != "MarkdownV2" {
					t.Errorf("ParseMode = %q", bot.sent[i].ParseMode)
				}
			}
		})
	}
}

func TestSendFailure(t *testing.T) {
	bot := &fakeBot{}
	client, _ := newTestClient(bot, 0)

	err := client.SendFailure("/in", errors.New("open /in: permission denied"))
	if err != nil {
		t.Fatalf("SendFailure() error: %v", err)
	}
	if len(bot.sent) != 1 || bot.sent[0].ChatID != 100 {
		t.Fatalf("Failure should go to the archive channel when no alerts channel is set: %+v", bot.sent)
	}
	if !strings.Contains(bot.sent[0].Text, "nothing deleted") {
		t.Errorf("Text = %q", bot.sent[0].Text)
	}
}

func TestSendWithRetry(t *testing.T) {
	bot := &fakeBot{failures: 2, err: errors.New("connection reset")}
	client, sleeps := newTestClient(bot, 0)

	if err := client.sendToChannel(100, "hello"); err != nil {
		t.Fatalf("sendToChannel() error: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Errorf("Expected one delivered message, got %d", len(bot.sent))
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*sleeps) != 2 || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
		t.Errorf("Backoff = %v, want %v", *sleeps, want)
	}
}

func TestSendWithRetry_GivesUpAndSanitizes(t *testing.T) {
	token := "123456789:ABCdefGHIjklMNOpqrSTUvwxYZ123456789"
	bot := &fakeBot{failures: maxRetries, err: errors.New("Post https://api.telegram.org/bot" + token + "/sendMessage: timeout")}
	client, _ := newTestClient(bot, 0)

	err := client.sendToChannel(100, "hello")
	if err == nil {
		t.Fatal("Expected error after all retries fail")
	}
	if strings.Contains(err.Error(), token) {
		t.Errorf("Error leaks the bot token: %v", err)
	}
}

func TestSendWithRetry_RateLimit(t *testing.T) {
	bot := &fakeBot{failures: 1, err: errors.New("Too Many Requests: retry after 7")}
	client, sleeps := newTestClient(bot, 0)

	if err := client.sendToChannel(100, "hello"); err != nil {
		t.Fatalf("sendToChannel() error: %v", err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 7*time.Second {
		t.Errorf("Sleeps = %v, want [7s]", *sleeps)
	}
}

func TestExtractRetryAfter(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("Too Many Requests: retry after 30"), 30},
		{errors.New("429 Retry After 5"), 5},
		{errors.New("429"), 30},
	}

	for _, tt := range tests {
		if got := extractRetryAfter(tt.err); got != tt.want {
			t.Errorf("extractRetryAfter(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	client, _ := newTestClient(&fakeBot{}, 0)

	short := "short message"
	if got := client.splitMessage(short); len(got) != 1 || got[0] != short {
		t.Errorf("Short message should not be split: %v", got)
	}

	line := strings.Repeat("x", 100)
	long := strings.Repeat(line+"\n", 100)
	parts := client.splitMessage(long)
	if len(parts) < 2 {
		t.Fatalf("Expected several parts, got %d", len(parts))
	}
	for i, p := range parts {
		if len(p) > maxMessageLength {
			t.Errorf("Part %d is %d bytes", i, len(p))
		}
	}

	huge := strings.Repeat("y", maxMessageLength*2+10)
	if parts := client.splitMessage(huge); len(parts) != 3 {
		t.Errorf("Oversized line should be cut in 3 parts, got %d", len(parts))
	}
}

func TestGetBotInfoAndClose(t *testing.T) {
	bot := &fakeBot{}
	client, _ := newTestClient(bot, 200)
	client.username = "archive_bot"

	info := client.GetBotInfo()
	if info["username"] != "archive_bot" || info["alerts_channel"] != int64(200) {
		t.Errorf("GetBotInfo() = %v", info)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if !bot.stopped {
		t.Error("Close should stop the bot")
	}
}
