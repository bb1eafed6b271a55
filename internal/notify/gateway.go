// Package notify is the uniform send boundary for every outbound
// notification channel. Callers get a Result back, never an error: a
// failed send is logged and reported, but must not abort the appointment
// operation that triggered it.
package notify

import (
	"context"
	"log/slog"

	"github.com/clinicdesk/clinicdesk/internal/notify/chat"
	"github.com/clinicdesk/clinicdesk/internal/notify/email"
	"github.com/clinicdesk/clinicdesk/internal/notify/inapp"
	"github.com/clinicdesk/clinicdesk/internal/notify/sms"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
	ChannelInApp Channel = "inapp"
)

// Request is one send to one recipient over one channel. Recipient is an
// email address for email, a phone number for sms/chat, and a user id for
// inapp. Sender is only meaningful for inapp messages.
type Request struct {
	Recipient string
	Sender    string
	Channel   Channel
	Subject   string
	Body      string
}

type Result struct {
	Channel   Channel
	Recipient string
	Delivered bool
	Reason    string
}

// Gateway fans requests out to the configured channel transports. All
// transports are injected; the gateway holds no business state.
type Gateway struct {
	email  email.Sender
	sms    sms.Sender
	chat   chat.Sender
	inapp  inapp.Sender
	logger *slog.Logger
}

func NewGateway(emailSender email.Sender, smsSender sms.Sender, chatSender chat.Sender, inappSender inapp.Sender, logger *slog.Logger) *Gateway {
	if emailSender == nil {
		emailSender = email.NewNoopSender()
	}
	if smsSender == nil {
		smsSender = sms.NewNoopSender()
	}
	if chatSender == nil {
		chatSender = chat.NewNoopSender()
	}
	if inappSender == nil {
		inappSender = inapp.NewNoopSender()
	}
	return &Gateway{
		email:  emailSender,
		sms:    smsSender,
		chat:   chatSender,
		inapp:  inappSender,
		logger: logger,
	}
}

// Send attempts delivery with one local retry. It always returns a Result.
func (g *Gateway) Send(ctx context.Context, req Request) Result {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = g.dispatch(ctx, req)
		if err == nil {
			return Result{Channel: req.Channel, Recipient: req.Recipient, Delivered: true}
		}
		if ctx.Err() != nil {
			break
		}
	}
	g.logger.Error("notification send failed",
		"channel", string(req.Channel),
		"recipient", req.Recipient,
		"err", err,
	)
	return Result{Channel: req.Channel, Recipient: req.Recipient, Delivered: false, Reason: err.Error()}
}

// SendAll dispatches every request independently; one failed channel never
// blocks the rest of the fan-out.
func (g *Gateway) SendAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, g.Send(ctx, req))
	}
	return results
}

func (g *Gateway) dispatch(ctx context.Context, req Request) error {
	switch req.Channel {
	case ChannelEmail:
		return g.email.Send(req.Recipient, req.Subject, req.Body)
	case ChannelSMS:
		return g.sms.Send(ctx, req.Recipient, req.Body)
	case ChannelChat:
		return g.chat.Send(ctx, req.Recipient, req.Body)
	case ChannelInApp:
		return g.inapp.Send(ctx, req.Recipient, req.Sender, req.Subject, req.Body)
	default:
		return errUnsupportedChannel(req.Channel)
	}
}

type errUnsupportedChannel Channel

func (e errUnsupportedChannel) Error() string {
	return "unsupported channel: " + string(e)
}
