package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

var _ Notifier = (*Telegram)(nil)

// Telegram delivers notifications to a single chat through a bot. Outbound
// messages flow through a bounded queue drained by one worker goroutine so a
// slow or down Telegram API can never stall the trading loop; when the queue
// is full the oldest class of traffic (new messages) is dropped.
type Telegram struct {
	bot    *tele.Bot
	chat   tele.ChatID
	logger zerolog.Logger

	queue    chan outbound
	pending  sync.Map // confirmation ID -> chan bool
	closed   chan struct{}
	workerWG sync.WaitGroup
}

type outbound struct {
	text   string
	markup *tele.ReplyMarkup
}

// NewTelegram creates a Telegram notifier and starts its delivery worker and
// update poller.
func NewTelegram(token string, chatID int64, queueSize int, logger zerolog.Logger) (*Telegram, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	t := &Telegram{
		bot:    bot,
		chat:   tele.ChatID(chatID),
		logger: logger.With().Str("component", "telegram").Logger(),
		queue:  make(chan outbound, queueSize),
		closed: make(chan struct{}),
	}

	bot.Handle(tele.OnCallback, t.handleCallback)

	t.workerWG.Add(1)
	go t.deliveryWorker()
	go bot.Start()

	return t, nil
}

// Notify formats and enqueues the message. Full queue drops the message with
// a log line rather than blocking.
func (t *Telegram) Notify(severity Severity, message string) {
	var prefix string
	switch severity {
	case SeverityTrade:
		prefix = "\U0001F4B0 "
	case SeverityAlert:
		prefix = "⚠️ "
	}
	select {
	case t.queue <- outbound{text: prefix + message}:
	default:
		t.logger.Warn().Str("message", message).Msg("notification queue full, dropping")
	}
}

// RequestConfirmation sends an approve/reject keyboard and waits. No answer
// within the timeout means rejection.
func (t *Telegram) RequestConfirmation(ctx context.Context, prompt string, timeout time.Duration) bool {
	id := uuid.NewString()[:8]
	reply := make(chan bool, 1)
	t.pending.Store(id, reply)
	defer t.pending.Delete(id)

	markup := &tele.ReplyMarkup{}
	approve := markup.Data("✅ Approve", "approve_"+id)
	reject := markup.Data("❌ Reject", "reject_"+id)
	markup.Inline(markup.Row(approve, reject))

	select {
	case t.queue <- outbound{text: prompt, markup: markup}:
	default:
		t.logger.Warn().Msg("queue full, confirmation auto-rejected")
		return false
	}

	select {
	case approved := <-reply:
		return approved
	case <-time.After(timeout):
		t.logger.Warn().Str("id", id).Msg("confirmation timed out, rejecting")
		return false
	case <-ctx.Done():
		return false
	}
}

// Close stops the poller and drains the queue.
func (t *Telegram) Close() error {
	close(t.closed)
	t.bot.Stop()
	t.workerWG.Wait()
	return nil
}

func (t *Telegram) deliveryWorker() {
	defer t.workerWG.Done()
	for {
		select {
		case msg := <-t.queue:
			t.send(msg)
		case <-t.closed:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case msg := <-t.queue:
					t.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (t *Telegram) send(msg outbound) {
	var err error
	if msg.markup != nil {
		_, err = t.bot.Send(t.chat, msg.text, msg.markup)
	} else {
		_, err = t.bot.Send(t.chat, msg.text)
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("sending telegram message")
	}
}

func (t *Telegram) handleCallback(c tele.Context) error {
	data := c.Callback().Unique
	var approved bool
	var id string
	switch {
	case len(data) > 8 && data[:8] == "approve_":
		approved, id = true, data[8:]
	case len(data) > 7 && data[:7] == "reject_":
		approved, id = false, data[7:]
	default:
		return c.Respond()
	}

	if ch, ok := t.pending.Load(id); ok {
		select {
		case ch.(chan bool) <- approved:
		default:
		}
	}
	return c.Respond(&tele.CallbackResponse{Text: "recorded"})
}
