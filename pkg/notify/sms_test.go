package notify

import (
	"context"
	"errors"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/khata/pkg/errorsx"
)

type stubCreator struct {
	last *api.CreateMessageParams
	sid  string
	err  error
}

func (s *stubCreator) CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error) {
	s.last = params
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Message{Sid: &s.sid}, nil
}

func TestSendSetsParams(t *testing.T) {
	stub := &stubCreator{sid: "SM123"}
	s := NewSMSSender(Config{AccountSID: "AC1", AuthToken: "token", From: "+200"}, nil)
	s.client = stub

	sid, err := s.Send(context.Background(), "+100", "2 kg chawal bika")
	if err != nil {
		t.Fatalf("send error: %v", err)
	}
	if sid != "SM123" {
		t.Fatalf("expected sid SM123, got %s", sid)
	}
	if stub.last == nil || stub.last.To == nil || *stub.last.To != "+100" {
		t.Fatalf("expected To param")
	}
	if stub.last.From == nil || *stub.last.From != "+200" {
		t.Fatalf("expected From param")
	}
	if stub.last.Body == nil || *stub.last.Body != "2 kg chawal bika" {
		t.Fatalf("expected Body param")
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	s := NewSMSSender(Config{AccountSID: "AC1", AuthToken: "token"}, nil)
	if _, err := s.Send(context.Background(), "", "hi"); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}

func TestSendWrapsAPIError(t *testing.T) {
	stub := &stubCreator{err: errors.New("boom")}
	s := NewSMSSender(Config{AccountSID: "AC1", AuthToken: "token", From: "+200"}, nil)
	s.client = stub

	_, err := s.Send(context.Background(), "+100", "hi")
	if !errorsx.HasReason(err, errorsx.ReasonSMSSend) {
		t.Fatalf("expected sms_send reason, got %v", err)
	}
}

func TestTransactionReceipt(t *testing.T) {
	got := TransactionReceipt("Ramesh ko 500 udhaar diya", 500)
	want := "Khata update: Ramesh ko 500 udhaar diya (₹500.00)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if TransactionReceipt("low stock alert", 0) != "Khata update: low stock alert" {
		t.Fatalf("zero-amount format wrong")
	}
}
