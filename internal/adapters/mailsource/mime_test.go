package mailsource

import (
	"net/mail"
	"strings"
	"testing"
)

func parseMessage(t *testing.T, raw string) *mail.Message {
	t.Helper()
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestExtractTextPlainMessage(t *testing.T) {
	msg := parseMessage(t, "From: a@x.com\r\n"+
		"Subject: hello\r\n"+
		"\r\n"+
		"just a plain body\r\n")

	got, err := extractTextFromMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "just a plain body") {
		t.Fatalf("extracted %q", got)
	}
}

func TestExtractTextMultipart(t *testing.T) {
	raw := "From: a@x.com\r\n" +
		"Content-Type: multipart/alternative; boundary=frontier\r\n" +
		"\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"the readable part\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<b>markup noise</b>\r\n" +
		"--frontier--\r\n"

	got, err := extractTextFromMessage(parseMessage(t, raw))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "the readable part") {
		t.Fatalf("text/plain part not extracted: %q", got)
	}
	if strings.Contains(got, "markup noise") {
		t.Fatalf("html part leaked into the text: %q", got)
	}
}

func TestExtractTextMultipartWithoutPlainPart(t *testing.T) {
	raw := "From: a@x.com\r\n" +
		"Content-Type: multipart/alternative; boundary=frontier\r\n" +
		"\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<b>only markup</b>\r\n" +
		"--frontier--\r\n"

	got, err := extractTextFromMessage(parseMessage(t, raw))
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("expected empty text, got %q", got)
	}
}

func TestExtractTextDecodesCharset(t *testing.T) {
	// "caf\xe9" is "café" in ISO-8859-1
	raw := "From: a@x.com\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"\r\n" +
		"meet at the caf\xe9\r\n"

	got, err := extractTextFromMessage(parseMessage(t, raw))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "café") {
		t.Fatalf("charset not decoded: %q", got)
	}
}

func TestExtractTextBadContentTypeFallsBack(t *testing.T) {
	msg := parseMessage(t, "From: a@x.com\r\n"+
		"Content-Type: multipart/;;;nonsense\r\n"+
		"\r\n"+
		"raw body as-is\r\n")

	got, err := extractTextFromMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "raw body as-is") {
		t.Fatalf("fallback did not return the raw body: %q", got)
	}
}
