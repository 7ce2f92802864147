package rtsp

import (
	"io"
	"strconv"
	"strings"
)

// Response describes an RTSP response to be written to a control stream.
//
// Headers must already be formatted as zero or more lines, each terminated
// with "\r\n" (the shape handlers build via strings.Builder before handing
// off to WriteResponse) — this mirrors original_source's send_response,
// which receives its extra headers as a single pre-joined string_view.
type Response struct {
	Status  StatusCode
	CSeq    int
	HasCSeq bool
	Headers string
	Body    []byte
}

// marshal renders r into a single buffer so it can be written to the
// control stream in one Write call, avoiding a partial write under
// backpressure splitting the status line from its headers.
func (r Response) marshal() []byte {
	var b strings.Builder
	b.Grow(64 + len(r.Headers) + len(r.Body))

	b.WriteString("RTSP/1.0 ")
	b.WriteString(strconv.Itoa(int(r.Status)))
	b.WriteByte(' ')
	b.WriteString(r.Status.String())
	b.WriteString("\r\n")

	if r.HasCSeq {
		b.WriteString("CSeq: ")
		b.WriteString(strconv.Itoa(r.CSeq))
		b.WriteString("\r\n")
	}

	b.WriteString(r.Headers)

	if len(r.Body) > 0 {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(r.Body)))
		b.WriteString("\r\n\r\n")
		b.Write(r.Body)
	} else {
		b.WriteString("\r\n")
	}

	return []byte(b.String())
}

// WriteResponse writes r to w and reports whether the write succeeded.
func WriteResponse(w io.Writer, r Response) bool {
	_, err := w.Write(r.marshal())
	return err == nil
}
