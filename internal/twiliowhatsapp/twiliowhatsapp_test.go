package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &twilioApi.ApiV2010Message{}, nil
}

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", sent[0].Body)
	}
}

func TestMockClient_Err(t *testing.T) {
	mock := NewMockClient()
	mock.Err = errors.New("boom")
	if err := mock.SendMessage(context.Background(), "1", "x"); err == nil {
		t.Fatal("expected error")
	}
	if len(mock.Sent()) != 0 {
		t.Error("failed sends should not be recorded")
	}
}

func TestClient_SendMessage(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, "+15550001111")

	if err := c.SendMessage(context.Background(), "15551234567", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.params) != 1 {
		t.Fatalf("expected 1 call, got %d", len(api.params))
	}
	p := api.params[0]
	if *p.To != "whatsapp:+15551234567" {
		t.Errorf("to = %q", *p.To)
	}
	if *p.From != "whatsapp:+15550001111" {
		t.Errorf("from = %q", *p.From)
	}
	if *p.Body != "hi" {
		t.Errorf("body = %q", *p.Body)
	}
}

func TestClient_SendMessageError(t *testing.T) {
	c := newClient(&fakeAPI{err: errors.New("rate limited")}, "whatsapp:+1")
	if err := c.SendMessage(context.Background(), "15551234567", "hi"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewClient_MissingConfig(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); !errors.Is(err, ErrMissingFrom) {
		t.Errorf("expected ErrMissingFrom, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+1555")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
