package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeEmail struct {
	calls int
	err   error
}

func (f *fakeEmail) Send(to, subject, body string) error {
	f.calls++
	return f.err
}

type fakeText struct {
	calls int
	err   error
}

func (f *fakeText) Send(ctx context.Context, to, body string) error {
	f.calls++
	return f.err
}

func (f *fakeText) ProviderID() string { return "fake" }

type fakeInApp struct {
	calls int
	err   error
}

func (f *fakeInApp) Send(ctx context.Context, to, from, subject, body string) error {
	f.calls++
	return f.err
}

func testGateway() (*Gateway, *fakeEmail, *fakeText, *fakeText, *fakeInApp) {
	email := &fakeEmail{}
	sms := &fakeText{}
	chat := &fakeText{}
	inapp := &fakeInApp{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateway(email, sms, chat, inapp, logger), email, sms, chat, inapp
}

func TestSendRoutesByChannel(t *testing.T) {
	gw, email, sms, chat, inapp := testGateway()
	ctx := context.Background()

	for _, ch := range []Channel{ChannelEmail, ChannelSMS, ChannelChat, ChannelInApp} {
		res := gw.Send(ctx, Request{Recipient: "r", Channel: ch, Body: "hello"})
		if !res.Delivered {
			t.Fatalf("channel %s: delivered = false, reason %q", ch, res.Reason)
		}
	}
	if email.calls != 1 || sms.calls != 1 || chat.calls != 1 || inapp.calls != 1 {
		t.Fatalf("calls = email:%d sms:%d chat:%d inapp:%d, want 1 each",
			email.calls, sms.calls, chat.calls, inapp.calls)
	}
}

func TestSendNeverReturnsError(t *testing.T) {
	gw, email, _, _, _ := testGateway()
	email.err = errors.New("smtp down")

	res := gw.Send(context.Background(), Request{Recipient: "r", Channel: ChannelEmail})
	if res.Delivered {
		t.Fatal("delivered = true for a failing transport")
	}
	if res.Reason == "" {
		t.Fatal("expected a failure reason")
	}
	// One retry before giving up.
	if email.calls != 2 {
		t.Fatalf("calls = %d, want 2", email.calls)
	}
}

func TestSendAllIsolatesFailures(t *testing.T) {
	gw, email, sms, _, _ := testGateway()
	sms.err = errors.New("provider rejected")

	results := gw.SendAll(context.Background(), []Request{
		{Recipient: "a@b.test", Channel: ChannelEmail},
		{Recipient: "+100", Channel: ChannelSMS},
		{Recipient: "a@b.test", Channel: ChannelEmail},
	})
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].Delivered || results[1].Delivered || !results[2].Delivered {
		t.Fatalf("delivered flags = %v %v %v, want true false true",
			results[0].Delivered, results[1].Delivered, results[2].Delivered)
	}
	if email.calls != 2 {
		t.Fatalf("email calls = %d, want 2", email.calls)
	}
}

func TestSendUnsupportedChannel(t *testing.T) {
	gw, _, _, _, _ := testGateway()
	res := gw.Send(context.Background(), Request{Recipient: "r", Channel: Channel("carrier-pigeon")})
	if res.Delivered {
		t.Fatal("unsupported channel reported as delivered")
	}
}
