package mailbox

import (
	"bytes"
	"io"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reportXML = `<?xml version="1.0"?><feedback><report_metadata><org_name>x</org_name></report_metadata></feedback>`

func buildMessage(t *testing.T, attach func(mw *mail.Writer)) []byte {
	t.Helper()
	var buf bytes.Buffer
	var h mail.Header
	h.SetAddressList("From", []*mail.Address{{Address: "noreply-dmarc-support@google.com"}})
	h.SetSubject("Report domain: example.com Submitter: google.com")

	mw, err := mail.CreateWriter(&buf, h)
	require.NoError(t, err)

	tw, err := mw.CreateInline()
	require.NoError(t, err)
	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain")
	w, err := tw.CreatePart(th)
	require.NoError(t, err)
	_, err = io.WriteString(w, "This is an aggregate report from google.com.")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, tw.Close())

	attach(mw)
	require.NoError(t, mw.Close())
	return buf.Bytes()
}

func TestAttachmentsPicksReportParts(t *testing.T) {
	raw := buildMessage(t, func(mw *mail.Writer) {
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", "application/xml")
		ah.SetFilename("google.com!example.com!1704067200!1704153599.xml")
		w, err := mw.CreateAttachment(ah)
		require.NoError(t, err)
		_, err = io.WriteString(w, reportXML)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		var logo mail.AttachmentHeader
		logo.Set("Content-Type", "image/png")
		logo.SetFilename("logo.png")
		w, err = mw.CreateAttachment(logo)
		require.NoError(t, err)
		_, err = w.Write([]byte{0x89, 'P', 'N', 'G'})
		require.NoError(t, err)
		require.NoError(t, w.Close())
	})

	got, err := Attachments(raw)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "google.com!example.com!1704067200!1704153599.xml", got[0].Name)
	assert.Equal(t, "application/xml", got[0].ContentType)
	assert.Equal(t, reportXML, string(got[0].Data))
}

func TestAttachmentsKeepsFailureReportWhole(t *testing.T) {
	raw := []byte("From: a@example.org\r\n" +
		"Content-Type: multipart/report; report-type=feedback-report; boundary=\"b\"\r\n" +
		"\r\n" +
		"--b\r\nContent-Type: message/feedback-report\r\n\r\nFeedback-Type: auth-failure\r\n\r\n" +
		"--b--\r\n")

	got, err := Attachments(raw)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "message/feedback-report", got[0].ContentType)
	assert.Equal(t, raw, got[0].Data)
}

func TestAttachmentsIgnoresPlainMail(t *testing.T) {
	raw := []byte("From: a@example.org\r\nSubject: hello\r\nContent-Type: text/plain\r\n\r\njust saying hi\r\n")
	got, err := Attachments(raw)
	require.NoError(t, err)
	assert.Empty(t, got)
}
