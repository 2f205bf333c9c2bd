package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mindstand/go-bolt-connector/chunking"
	"github.com/mindstand/go-bolt-connector/encoding"
	"github.com/mindstand/go-bolt-connector/errors"
)

// Recorder records a session with the server.
// Allows for playback of sessions as well: a Recorder built from a recording
// with no transport underneath answers reads from the recorded events and
// checks every write against them.
type Recorder struct {
	Transport
	events       []*Event
	currentEvent int
}

// Event represents a single recording (read or write) event in the recorder
type Event struct {
	Timestamp int64 `json:"-"`
	Event     []byte
	IsWrite   bool
	Completed bool
	Error     string `json:",omitempty"`
}

func newEvent(isWrite bool) *Event {
	return &Event{
		Timestamp: time.Now().UnixNano(),
		IsWrite:   isWrite,
	}
}

// NewRecorder records everything sent and received through inner
func NewRecorder(inner Transport) *Recorder {
	return &Recorder{Transport: inner}
}

// LoadRecording reads a recording saved with Save, ready for playback
func LoadRecording(r io.Reader) (*Recorder, error) {
	rec := &Recorder{}
	if err := json.NewDecoder(r).Decode(&rec.events); err != nil {
		return nil, errors.Wrap(err, "Couldn't load data from recording")
	}
	return rec, nil
}

// Save writes the events as JSON
func (r *Recorder) Save(w io.Writer) error {
	return json.NewEncoder(w).Encode(r.events)
}

// Events returns the recorded events in order
func (r *Recorder) Events() []*Event {
	return r.events
}

func (r *Recorder) lastEvent() *Event {
	if len(r.events) > 0 {
		return r.events[len(r.events)-1]
	}
	return nil
}

func (r *Recorder) Open(ctx context.Context, address string) error {
	if r.Transport != nil {
		return r.Transport.Open(ctx, address)
	}
	return nil
}

// Receive reads from the transport, recording the interaction.
func (r *Recorder) Receive(p []byte) (n int, err error) {
	if r.Transport != nil {
		n, err = r.Transport.Receive(p)
		r.record(p[:n], false)
		r.recordErr(err, false)
		return n, err
	}

	if r.currentEvent >= len(r.events) {
		return 0, io.EOF
	}
	event := r.events[r.currentEvent]
	if event.IsWrite {
		return 0, errors.New("Recorder expected Read, got Write! Event %d", r.currentEvent)
	}

	n = copy(p, event.Event)
	event.Event = event.Event[n:]
	if len(event.Event) == 0 {
		r.currentEvent++
		if event.Error != "" {
			return n, errors.New("%s", event.Error)
		}
	}
	return n, nil
}

// Send writes to the transport, recording the interaction.
func (r *Recorder) Send(b []byte) error {
	if r.Transport != nil {
		err := r.Transport.Send(b)
		if err == nil {
			r.record(b, true)
		}
		r.recordErr(err, true)
		return err
	}

	for len(b) > 0 {
		if r.currentEvent >= len(r.events) {
			return errors.New("Trying to write past all of the events in the recorder!")
		}
		event := r.events[r.currentEvent]
		if !event.IsWrite {
			return errors.New("Recorder expected Write, got Read! Event %d", r.currentEvent)
		}
		n := len(b)
		if n > len(event.Event) {
			n = len(event.Event)
		}
		if !bytes.Equal(b[:n], event.Event[:n]) {
			return errors.New("Recorded write differs at event %d:\n%s\nexpected:\n%s", r.currentEvent, SprintByteHex(b[:n]), SprintByteHex(event.Event[:n]))
		}
		event.Event = event.Event[n:]
		b = b[n:]
		if len(event.Event) == 0 {
			r.currentEvent++
		}
	}
	return nil
}

// Close closes the transport. In playback it fails if events were left
// unconsumed.
func (r *Recorder) Close() error {
	if r.Transport != nil {
		return r.Transport.Close()
	}
	if r.currentEvent < len(r.events) && !r.events[r.currentEvent].IsWrite {
		return errors.New("Didn't read all of the events in the recorder on close! %d of %d", r.currentEvent, len(r.events))
	}
	return nil
}

func (r *Recorder) SetDeadline(t time.Time) error {
	if r.Transport != nil {
		return r.Transport.SetDeadline(t)
	}
	return nil
}

func (r *Recorder) RemoteAddr() string {
	if r.Transport != nil {
		return r.Transport.RemoteAddr()
	}
	return "playback"
}

func (r *Recorder) record(data []byte, isWrite bool) {
	if len(data) == 0 {
		return
	}

	event := r.lastEvent()
	if event == nil || event.Completed || event.IsWrite != isWrite {
		event = newEvent(isWrite)
		r.events = append(r.events, event)
	}

	event.Event = append(event.Event, data...)
	event.Completed = bytes.HasSuffix(event.Event, chunking.EndMessage)
}

func (r *Recorder) recordErr(err error, isWrite bool) {
	if err == nil {
		return
	}

	event := r.lastEvent()
	if event == nil || event.Completed || event.IsWrite != isWrite {
		event = newEvent(isWrite)
		r.events = append(r.events, event)
	}
	event.Error = err.Error()
	event.Completed = true
}

// Print writes every event with its decoded messages and raw bytes
func (r *Recorder) Print(w io.Writer) {
	for i, event := range r.events {
		typee := "READ"
		if event.IsWrite {
			typee = "WRITE"
		}
		fmt.Fprintf(w, "%s #%d @ %d:\n\n", typee, i, event.Timestamp)

		if msgs, err := chunking.Decode(event.Event); err != nil || len(msgs) == 0 {
			fmt.Fprint(w, "Raw (not a complete chunked message)\n\n")
		} else {
			for _, msg := range msgs {
				decoded, err := encoding.Unmarshal(msg)
				if err != nil {
					fmt.Fprintf(w, "Error decoding data! Error: %s\n", err)
					continue
				}
				fmt.Fprintf(w, "Decoded Data:\n\n%+v\n\n", decoded)
			}
		}

		fmt.Fprint(w, "Encoded Bytes:\n\n")
		fmt.Fprint(w, SprintByteHex(event.Event))
		if !event.Completed {
			fmt.Fprintln(w, "EVENT NEVER COMPLETED")
		}
		if event.Error != "" {
			fmt.Fprintf(w, "ERROR OCCURRED DURING EVENT\n\nError: %s\n", event.Error)
		}
		fmt.Fprintln(w)
	}
}
