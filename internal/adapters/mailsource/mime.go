package mailsource

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// extractTextFromMessage extracts the text content from an email message.
// For multipart messages it collects the text/plain parts, decoding each
// per its declared charset.
func extractTextFromMessage(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")

	if !strings.Contains(strings.ToLower(contentType), "multipart/") {
		return readAllCharset(msg.Body, charsetOf(contentType))
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return readAllCharset(msg.Body, "")
	}

	boundary, ok := params["boundary"]
	if !ok {
		return readAllCharset(msg.Body, "")
	}

	mr := multipart.NewReader(msg.Body, boundary)
	var textContent bytes.Buffer

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if textContent.Len() > 0 {
				return textContent.String(), nil
			}
			return readAllCharset(msg.Body, "")
		}

		partContentType := part.Header.Get("Content-Type")
		if strings.Contains(strings.ToLower(partContentType), "text/plain") {
			text, err := readAllCharset(part, charsetOf(partContentType))
			if err != nil {
				continue
			}
			textContent.WriteString(text)
			textContent.WriteString("\n")
		}
		// Skip nested multiparts, attachments and other parts
	}

	if textContent.Len() > 0 {
		return textContent.String(), nil
	}
	return "", nil
}

// charsetOf returns the charset parameter of a Content-Type header, or ""
func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// readAllCharset reads r fully, transcoding to UTF-8 when the declared
// charset is known. Unknown or missing charsets pass through as-is.
func readAllCharset(r io.Reader, charset string) (string, error) {
	if charset != "" && !strings.EqualFold(charset, "utf-8") && !strings.EqualFold(charset, "us-ascii") {
		if enc, err := htmlindex.Get(charset); err == nil {
			r = transform.NewReader(r, enc.NewDecoder())
		}
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
