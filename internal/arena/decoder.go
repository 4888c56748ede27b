package arena

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/bnema/arena-relay/internal/domain"
)

const (
	maxRecordSize = 1 << 20
	previewSize   = 120
	ssePrefix     = "data:"
	sseDone       = "[DONE]"
)

// Record codes carried after the slot letter.
const (
	CodeText       = '0'
	CodeAnnotation = '2'
	CodeError      = '3'
	CodeFinish     = 'd'
	CodeStepFinish = 'e'
)

// Record is one decoded line of the response stream.
type Record struct {
	Slot         domain.Slot
	Code         byte
	Content      string
	FinishReason string
}

// MalformedRecordError describes a line that could not be decoded. The stream remains usable.
type MalformedRecordError struct {
	Line   string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %q: %s", truncate(e.Line, previewSize), e.Reason)
}

// IsMalformed reports whether err only concerns a single bad record.
func IsMalformed(err error) bool {
	var target *MalformedRecordError
	return errors.As(err, &target)
}

// ParseRecord decodes a single line. ok is false for lines that carry nothing to report: blank
// lines, stream sentinels and record codes this package does not act on.
func ParseRecord(line string) (rec Record, ok bool, err error) {
	line = strings.TrimSpace(line)
	if after, found := strings.CutPrefix(line, ssePrefix); found {
		line = strings.TrimSpace(after)
	}
	if line == "" || line == sseDone {
		return Record{}, false, nil
	}

	head, payload, found := strings.Cut(line, ":")
	if !found || len(head) != 2 {
		return Record{}, false, &MalformedRecordError{Line: line, Reason: "missing slot prefix"}
	}

	slot := domain.Slot(head[:1])
	if !slot.Valid() {
		return Record{}, false, &MalformedRecordError{Line: line, Reason: "unknown slot"}
	}
	rec = Record{Slot: slot, Code: head[1]}

	switch rec.Code {
	case CodeText, CodeError:
		if err := json.Unmarshal([]byte(payload), &rec.Content); err != nil {
			return Record{}, false, &MalformedRecordError{Line: line, Reason: "content is not a JSON string"}
		}
		return rec, true, nil
	case CodeFinish:
		var finish struct {
			FinishReason string `json:"finishReason"`
		}
		if err := json.Unmarshal([]byte(payload), &finish); err != nil {
			return Record{}, false, &MalformedRecordError{Line: line, Reason: "finish payload is not an object"}
		}
		rec.FinishReason = finish.FinishReason
		return rec, true, nil
	default:
		return rec, false, nil
	}
}

// Event converts rec into the stream event reported to the caller.
func (r Record) Event(modelID string) domain.StreamEvent {
	switch r.Code {
	case CodeError:
		return domain.StatusEvent{Message: fmt.Sprintf("model %s reported: %s", r.Slot, r.Content)}
	case CodeFinish:
		return domain.ModelChunkEvent{Slot: r.Slot, ModelID: modelID, FinishReason: r.FinishReason}
	default:
		return domain.ModelChunkEvent{Slot: r.Slot, ModelID: modelID, Content: r.Content}
	}
}

// Decoder reads records from a newline-delimited response body.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next reportable record. A *MalformedRecordError, including one for a line
// longer than maxRecordSize, leaves the decoder positioned after the bad line; io.EOF marks the
// end of the stream.
func (d *Decoder) Next() (Record, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return Record{}, err
		}
		rec, ok, err := ParseRecord(line)
		if err != nil {
			return Record{}, err
		}
		if ok {
			return rec, nil
		}
	}
}

// readLine returns the next line. An oversized line is discarded up to its newline and only a
// preview is kept for the error.
func (d *Decoder) readLine() (string, error) {
	var line []byte
	oversized := false
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !oversized {
			line = append(line, chunk...)
			if len(bytes.TrimSuffix(line, []byte("\n"))) > maxRecordSize {
				oversized = true
				line = append([]byte(nil), line[:previewSize]...)
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err != nil && !errors.Is(err, io.EOF):
			return "", fmt.Errorf("read stream: %w", err)
		case oversized:
			return "", &MalformedRecordError{Line: string(line), Reason: fmt.Sprintf("record exceeds %d bytes", maxRecordSize)}
		case err != nil && len(line) == 0:
			return "", io.EOF
		default:
			return string(line), nil
		}
	}
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
