package mail

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestLogSenderNeverFails(t *testing.T) {
	sender := NewLogSender(nil)
	if err := sender.Send(context.Background(), "owner@example.com", "https://api.example.com/claim/verify?token=x"); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
}

func TestResendSenderPostsMessage(t *testing.T) {
	var captured *http.Request
	var capturedBody []byte
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		captured = r
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("reading request body: %v", err)
		}
		capturedBody = body
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"id":"msg-1"}`)),
			Header:     http.Header{},
		}, nil
	})}

	sender, err := NewResendSender(ResendConfig{
		APIKey:     "re_test_key",
		From:       "QR Notes <no-reply@example.com>",
		HTTPClient: client,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	link := "https://api.example.com/claim/verify?token=abc"
	if err := sender.Send(context.Background(), "owner@example.com", link); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	if captured.Method != http.MethodPost || captured.URL.String() != "https://api.resend.com/emails" {
		t.Fatalf("unexpected request %s %s", captured.Method, captured.URL)
	}
	if auth := captured.Header.Get("Authorization"); auth != "Bearer re_test_key" {
		t.Fatalf("unexpected authorization header %q", auth)
	}

	var message resendMessage
	if err := json.Unmarshal(capturedBody, &message); err != nil {
		t.Fatalf("decoding message: %v", err)
	}
	if len(message.To) != 1 || message.To[0] != "owner@example.com" {
		t.Fatalf("unexpected recipients %v", message.To)
	}
	if !strings.Contains(message.Text, link) {
		t.Fatalf("message text should carry the magic link: %q", message.Text)
	}
}

func TestResendSenderReportsProviderErrors(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusUnprocessableEntity,
			Body:       io.NopCloser(strings.NewReader(`{"message":"invalid recipient"}`)),
			Header:     http.Header{},
		}, nil
	})}

	sender, err := NewResendSender(ResendConfig{APIKey: "re_test_key", From: "no-reply@example.com", HTTPClient: client})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	err = sender.Send(context.Background(), "owner@example.com", "https://api.example.com/claim/verify?token=abc")
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if !strings.Contains(err.Error(), "422") || !strings.Contains(err.Error(), "invalid recipient") {
		t.Fatalf("error should carry status and detail: %v", err)
	}
}

func TestNewResendSenderValidatesConfig(t *testing.T) {
	if _, err := NewResendSender(ResendConfig{From: "no-reply@example.com"}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
	if _, err := NewResendSender(ResendConfig{APIKey: "re_test_key"}); err == nil {
		t.Fatalf("expected error for missing sender identity")
	}
}
