package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/remotectl/internal/protocol"
)

const (
	frameTypeLoad    = "load"
	frameTypeMessage = "message"
)

// frame wraps one flat protocol record for stream transports. The record
// itself stays flat; the wrapper only carries transport signals.
type frame struct {
	Type  string           `json:"type"`
	Label string           `json:"label,omitempty"`
	Data  protocol.Message `json:"data,omitempty"`
}

func (f frame) validate() error {
	switch f.Type {
	case frameTypeLoad:
		return nil
	case frameTypeMessage:
		if err := f.Data.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidFrame, f.Type)
	}
}

func writeFrame(w io.Writer, f frame) error {
	if err := f.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

// readFrame reads one newline-terminated frame of at most limit bytes.
func readFrame(r *bufio.Reader, limit int) (frame, error) {
	line, err := readLine(r, limit)
	if err != nil {
		return frame{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var f frame
	if err := dec.Decode(&f); err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := f.validate(); err != nil {
		return frame{}, err
	}
	return f, nil
}

func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > limit {
			if errors.Is(err, bufio.ErrBufferFull) {
				if drainErr := discardLine(r); drainErr != nil {
					return nil, drainErr
				}
			}
			return nil, ErrFrameTooLarge
		}
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}

func discardLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}
