package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/example/driver-console/internal/models"
	"github.com/example/driver-console/internal/tracker"
)

const commandTimeout = 20 * time.Second

var (
	btnAccept  = tele.Btn{Unique: "accept"}
	btnDecline = tele.Btn{Unique: "decline"}
)

type Tracker interface {
	Snapshot() tracker.State
	SetOnline(ctx context.Context, online bool) error
	Accept(ctx context.Context, id string) error
	Decline(ctx context.Context, id string) error
}

type Earnings interface {
	Refresh(ctx context.Context) (models.Earnings, error)
}

type Locator interface {
	Update(pos models.Coordinates) error
	PickupDistanceKm(req *models.RideRequest) (float64, bool)
}

// messenger is the part of *tele.Bot used to talk to the driver.
type messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Bot is the driver's Telegram front end. It serves a single chat.
type Bot struct {
	bot      *tele.Bot
	out      messenger
	chat     tele.ChatID
	tracker  Tracker
	earnings Earnings
	location Locator
	log      *slog.Logger

	mu     sync.Mutex
	offers map[string]offerMessage
}

type offerMessage struct {
	msg  *tele.Message
	text string
}

func New(token string, chatID int64, tr Tracker, earnings Earnings, loc Locator, log *slog.Logger) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler failed", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	b := newBot(tb, chatID, tr, earnings, loc, log)
	b.bot = tb
	b.registerHandlers()
	return b, nil
}

func newBot(out messenger, chatID int64, tr Tracker, earnings Earnings, loc Locator, log *slog.Logger) *Bot {
	return &Bot{
		out:      out,
		chat:     tele.ChatID(chatID),
		tracker:  tr,
		earnings: earnings,
		location: loc,
		log:      log,
		offers:   make(map[string]offerMessage),
	}
}

func (b *Bot) registerHandlers() {
	b.bot.Use(onlyChat(int64(b.chat)))
	b.bot.Handle("/start", b.handleStatus)
	b.bot.Handle("/status", b.handleStatus)
	b.bot.Handle("/online", b.handleAvailability(true))
	b.bot.Handle("/offline", b.handleAvailability(false))
	b.bot.Handle("/earnings", b.handleEarnings)
	b.bot.Handle(&btnAccept, b.handleAccept)
	b.bot.Handle(&btnDecline, b.handleDecline)
	b.bot.Handle(tele.OnLocation, b.handleLocation)
}

// onlyChat drops updates from any chat but the configured one.
func onlyChat(id int64) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if chat := c.Chat(); chat == nil || chat.ID != id {
				return nil
			}
			return next(c)
		}
	}
}

// Run starts polling Telegram and relays tracker events to the chat
// until ctx is done or events closes.
func (b *Bot) Run(ctx context.Context, events <-chan tracker.Event) {
	if b.bot != nil {
		go b.bot.Start()
		defer b.bot.Stop()
	}
	b.log.Info("telegram bot started", "chat_id", int64(b.chat))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.relay(ev)
		}
	}
}

func (b *Bot) relay(ev tracker.Event) {
	var err error
	switch ev.Type {
	case tracker.EventRequestSurfaced:
		err = b.postOffer(ev.State)
	case tracker.EventRequestAccepted, tracker.EventRequestDeclined, tracker.EventRequestExpired:
		err = b.closeOffer(ev.RequestID, ev.Type)
		if err == nil && ev.Type == tracker.EventRequestAccepted && ev.State.Trip != nil {
			_, err = b.out.Send(b.chat, renderTrip(ev.State.Trip), tele.ModeHTML)
		}
	case tracker.EventTripUpdated:
		if ev.State.Trip != nil {
			_, err = b.out.Send(b.chat, renderTrip(ev.State.Trip), tele.ModeHTML)
		}
	case tracker.EventTripCompleted:
		_, err = b.out.Send(b.chat, fmt.Sprintf("🏁 Trip completed. Fare R%.2f", ev.Fare))
	case tracker.EventTripCancelled:
		_, err = b.out.Send(b.chat, "⚠️ Trip cancelled.")
	case tracker.EventDriverOnline, tracker.EventDriverOffline:
		_, err = b.out.Send(b.chat, renderState(ev.State), tele.ModeHTML)
	}
	if err != nil {
		b.log.Warn("telegram relay failed", "event_type", ev.Type, "error", err)
	}
	// resolution events can be dropped for a slow subscriber, so any offer
	// other than the one still pending is closed here
	keep := ""
	if ev.State.Request != nil {
		keep = ev.State.Request.ID
	}
	b.pruneOffers(keep)
}

func (b *Bot) pruneOffers(keep string) {
	b.mu.Lock()
	var stale []offerMessage
	for id, om := range b.offers {
		if id == keep {
			continue
		}
		stale = append(stale, om)
		delete(b.offers, id)
	}
	b.mu.Unlock()
	for _, om := range stale {
		if om.msg == nil {
			continue
		}
		if _, err := b.out.Edit(om.msg, renderClosed(om.text), tele.ModeHTML); err != nil {
			b.log.Warn("telegram offer close failed", "error", err)
		}
	}
}

func (b *Bot) postOffer(st tracker.State) error {
	req := st.Request
	if req == nil {
		return nil
	}
	var dist *float64
	if b.location != nil {
		if d, ok := b.location.PickupDistanceKm(req); ok {
			dist = &d
		}
	}
	text := renderOffer(req, dist, st.SecondsRemaining)
	menu := &tele.ReplyMarkup{}
	menu.Inline(menu.Row(
		menu.Data("✅ Accept", btnAccept.Unique, req.ID),
		menu.Data("❌ Decline", btnDecline.Unique, req.ID),
	))
	msg, err := b.out.Send(b.chat, text, menu, tele.ModeHTML)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.offers[req.ID] = offerMessage{msg: msg, text: text}
	b.mu.Unlock()
	return nil
}

func (b *Bot) closeOffer(requestID string, typ tracker.EventType) error {
	b.mu.Lock()
	om, ok := b.offers[requestID]
	delete(b.offers, requestID)
	b.mu.Unlock()
	if !ok || om.msg == nil {
		return nil
	}
	_, err := b.out.Edit(om.msg, renderOutcome(om.text, typ), tele.ModeHTML)
	return err
}

func commandCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

func (b *Bot) handleStatus(c tele.Context) error {
	return c.Send(renderState(b.tracker.Snapshot()), tele.ModeHTML)
}

func (b *Bot) handleAvailability(online bool) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx, cancel := commandCtx()
		defer cancel()
		if err := b.tracker.SetOnline(ctx, online); err != nil {
			return c.Send("❌ " + userMessage(err))
		}
		// the relayed driver.online/offline event carries the confirmation
		return nil
	}
}

func (b *Bot) handleEarnings(c tele.Context) error {
	if b.earnings == nil {
		return c.Send("Earnings are not available.")
	}
	ctx, cancel := commandCtx()
	defer cancel()
	e, err := b.earnings.Refresh(ctx)
	if err != nil {
		b.log.Warn("earnings via telegram failed", "error", err)
		return c.Send("❌ Could not load earnings, try again shortly.")
	}
	return c.Send(renderEarnings(e), tele.ModeHTML)
}

func (b *Bot) handleAccept(c tele.Context) error {
	return b.respond(c, b.tracker.Accept, "Accepted")
}

func (b *Bot) handleDecline(c tele.Context) error {
	return b.respond(c, b.tracker.Decline, "Declined")
}

func (b *Bot) respond(c tele.Context, fn func(context.Context, string) error, okText string) error {
	ctx, cancel := commandCtx()
	defer cancel()
	if err := fn(ctx, c.Data()); err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "❌ " + userMessage(err)})
	}
	return c.Respond(&tele.CallbackResponse{Text: okText})
}

func (b *Bot) handleLocation(c tele.Context) error {
	loc := c.Message().Location
	if loc == nil || b.location == nil {
		return nil
	}
	pos := models.Coordinates{Latitude: float64(loc.Lat), Longitude: float64(loc.Lng)}
	if err := b.location.Update(pos); err != nil {
		return c.Send("❌ That location looks invalid.")
	}
	return nil
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, tracker.ErrNoPendingRequest), errors.Is(err, tracker.ErrRequestMismatch):
		return "This request is no longer open."
	case errors.Is(err, tracker.ErrBusy):
		return "Still working on the previous action."
	case errors.Is(err, tracker.ErrTripInProgress):
		return "Finish the current trip before going offline."
	case errors.Is(err, tracker.ErrOffline):
		return "You are offline."
	}
	return "The ride service did not respond, try again."
}
