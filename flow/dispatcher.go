package flow

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/shopmesh/shopmesh/core"
)

// Interruption wire shape produced by upstream agents that serialize their
// suspension signal into the text stream instead of a structured event:
//
//	{"action_request": {"action": "...", "args": {...}}, "description": "..."}
//
// ParseInterruption extracts a PendingAction from such a payload. It returns
// false for anything that is not a complete, well-formed payload.
func ParseInterruption(s string) (*core.PendingAction, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !gjson.Valid(s) {
		return nil, false
	}

	root := gjson.Parse(s)
	ar := root.Get("action_request")
	if !ar.Exists() {
		return nil, false
	}

	action := ar.Get("action").String()
	if action == "" {
		return nil, false
	}

	args := map[string]any{}
	if m, ok := ar.Get("args").Value().(map[string]any); ok {
		args = m
	}

	return &core.PendingAction{
		ActionType: action,
		Arguments:  args,
		Prompt:     root.Get("description").String(),
	}, true
}

// Dispatcher normalizes an agent event stream for client delivery. Plain text
// fragments pass through untouched; a trailing fragment that looks like the
// start of a serialized interruption payload is held back and buffered. When
// the stream ends the buffered tail is reclassified: a well-formed payload
// becomes a structured interruption event (surfacing the human prompt, never
// the raw JSON), anything else is flushed as the plain text it was.
//
// Structured interruption events produced by the in-process flow pass through
// unchanged; the tail protocol exists for upstream agents that can only talk
// text.
type Dispatcher struct {
	runID  string
	author string
}

// NewDispatcher creates a dispatcher stamping reclassified events with the
// given run id and author.
func NewDispatcher(runID, author string) *Dispatcher {
	return &Dispatcher{runID: runID, author: author}
}

// Dispatch consumes in and returns the normalized stream. The returned
// channel closes after in closes and any held-back tail has been resolved.
func (d *Dispatcher) Dispatch(in <-chan core.Event) <-chan core.Event {
	out := make(chan core.Event, 32)

	go func() {
		defer close(out)

		var tail strings.Builder
		buffering := false

		flushTail := func() {
			if tail.Len() == 0 {
				return
			}
			text := tail.String()
			tail.Reset()
			buffering = false

			if pending, ok := ParseInterruption(text); ok {
				if pending.OriginAgent == "" {
					pending.OriginAgent = d.author
				}
				out <- core.NewInterruptionEvent(d.runID, *pending)
				return
			}

			ev := core.NewMessageEvent(d.author, text)
			ev.RunID = d.runID
			partial := true
			ev.Partial = &partial
			out <- ev
		}

		for ev := range in {
			if ev.IsPartial() && ev.Content != nil {
				text := ev.Text()

				if buffering {
					tail.WriteString(text)
					continue
				}

				if strings.HasPrefix(strings.TrimSpace(text), "{") {
					buffering = true
					tail.WriteString(text)
					continue
				}

				out <- ev
				continue
			}

			// A structured or final event resolves any buffered tail first.
			if buffering && ev.IsInterruption() {
				// The flow surfaced the suspension itself; the buffered JSON
				// was its serialized twin. Drop it.
				tail.Reset()
				buffering = false
				out <- ev
				continue
			}

			if !ev.IsPartial() && ev.Content != nil && ev.Pending == nil {
				if reclassified, ok := d.reclassifyFinal(ev); ok {
					tail.Reset()
					buffering = false
					out <- reclassified
					continue
				}
			}

			flushTail()
			out <- ev
		}

		flushTail()
	}()

	return out
}

// reclassifyFinal checks whether the final assistant text ends in a
// serialized interruption payload. On a match it returns a copy of the event
// with the payload replaced by a structured PendingAction and the
// human-readable prompt.
func (d *Dispatcher) reclassifyFinal(ev core.Event) (core.Event, bool) {
	text := ev.Text()
	if text == "" {
		return ev, false
	}

	idx := strings.Index(text, "{")
	for idx >= 0 {
		if pending, ok := ParseInterruption(text[idx:]); ok {
			if pending.OriginAgent == "" {
				pending.OriginAgent = ev.Author
			}

			prefix := strings.TrimSpace(text[:idx])
			display := pending.Prompt
			if prefix != "" {
				display = prefix + "\n" + pending.Prompt
			}

			out := ev
			out.Pending = pending
			out.Content = &core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: display}}}
			return out, true
		}

		next := strings.Index(text[idx+1:], "{")
		if next < 0 {
			break
		}
		idx += 1 + next
	}

	return ev, false
}
