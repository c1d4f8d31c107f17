package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// ItemKind tags the variant held by an Item.
type ItemKind int

const (
	// ItemEmpty is a falsy entry. It is skipped without side effects.
	ItemEmpty ItemKind = iota
	// ItemPause suspends the replay for Item.Pause.
	ItemPause
	// ItemPayload is a message to transmit.
	ItemPayload
)

func (k ItemKind) String() string {
	switch k {
	case ItemPause:
		return "pause"
	case ItemPayload:
		return "payload"
	default:
		return "empty"
	}
}

// Item is one entry of a queue definition. The variant is decided once, when
// the entry is decoded, and never re-inspected afterwards.
type Item struct {
	Kind    ItemKind
	Pause   time.Duration
	Payload *Payload

	// raw keeps the decoded bytes so stored definitions re-encode unchanged.
	raw json.RawMessage
}

// Payload is a message body with an optional partitioning key. Exactly one
// of Text or Record is set on a well-formed payload.
type Payload struct {
	Text   string
	Record json.RawMessage
	Key    string
}

// HasBody reports whether the payload carries something to transmit.
func (p *Payload) HasBody() bool {
	return p.Text != "" || len(p.Record) > 0
}

// Body returns the wire form of the payload. Records are compacted to
// canonical JSON, text passes through unchanged.
func (p *Payload) Body() (string, error) {
	if len(p.Record) == 0 {
		return p.Text, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, p.Record); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// EmptyItem returns an item that is skipped during replay.
func EmptyItem() Item { return Item{Kind: ItemEmpty} }

// PauseItem returns an item that suspends the replay for d.
func PauseItem(d time.Duration) Item { return Item{Kind: ItemPause, Pause: d} }

// TextItem returns an unkeyed string payload.
func TextItem(s string) Item {
	return Item{Kind: ItemPayload, Payload: &Payload{Text: s}}
}

// KeyedItem returns a string payload routed by key.
func KeyedItem(s, key string) Item {
	return Item{Kind: ItemPayload, Payload: &Payload{Text: s, Key: key}}
}

// RecordItem returns an unkeyed structured payload.
func RecordItem(record json.RawMessage) Item {
	return Item{Kind: ItemPayload, Payload: &Payload{Record: record}}
}

// UnmarshalJSON decodes one element of a "messages" array.
//
// Falsy values (null, false, 0, "") and true become empty items, positive
// numbers are pauses in milliseconds, strings and arrays are payloads. An
// object with a truthy "payload" field is a keyed payload; any other object is
// sent whole, unless it has a key but no payload, which is kept as a payload
// without a body so that the send rejects it.
func (it *Item) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	*it = Item{raw: append(json.RawMessage(nil), raw...)}
	if len(raw) == 0 {
		return nil
	}

	switch raw[0] {
	case 'n', 't', 'f':
		it.Kind = ItemEmpty
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if s == "" {
			it.Kind = ItemEmpty
			return nil
		}
		it.Kind = ItemPayload
		it.Payload = &Payload{Text: s}
	case '[':
		it.Kind = ItemPayload
		it.Payload = &Payload{Record: it.raw}
	case '{':
		p, err := decodeObject(it.raw)
		if err != nil {
			return err
		}
		it.Kind = ItemPayload
		it.Payload = p
	default:
		ms, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return err
		}
		if ms < 0 {
			return &ValidationError{Field: "messages", Msg: "pause duration cannot be negative"}
		}
		if ms == 0 {
			it.Kind = ItemEmpty
			return nil
		}
		it.Kind = ItemPause
		it.Pause = time.Duration(ms * float64(time.Millisecond))
	}
	return nil
}

func decodeObject(raw json.RawMessage) (*Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	body, key := fields["payload"], fields["key"]

	p := &Payload{}
	if truthy(key) {
		p.Key = keyString(key)
	}
	switch {
	case truthy(body):
		var s string
		if body[0] == '"' && json.Unmarshal(body, &s) == nil {
			p.Text = s
		} else {
			p.Record = body
		}
	case p.Key != "":
		// key without payload: left without a body on purpose
	default:
		p.Record = raw
	}
	return p, nil
}

// MarshalJSON re-emits the decoded bytes when present, otherwise the
// canonical encoding of the variant.
func (it Item) MarshalJSON() ([]byte, error) {
	if len(it.raw) > 0 {
		return it.raw, nil
	}
	switch it.Kind {
	case ItemPause:
		return json.Marshal(it.Pause.Milliseconds())
	case ItemPayload:
		p := it.Payload
		if p == nil {
			return []byte("null"), nil
		}
		if p.Key == "" {
			if len(p.Record) > 0 {
				return p.Record, nil
			}
			return json.Marshal(p.Text)
		}
		out := struct {
			Payload any    `json:"payload,omitempty"`
			Key     string `json:"key"`
		}{Key: p.Key}
		if len(p.Record) > 0 {
			out.Payload = p.Record
		} else if p.Text != "" {
			out.Payload = p.Text
		}
		return json.Marshal(out)
	default:
		return []byte("null"), nil
	}
}

// truthy mirrors the loose truthiness of the request format: null, false,
// 0 and "" are falsy, everything else is truthy.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", `""`:
		return false
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
		return f != 0
	}
	return true
}

func keyString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
