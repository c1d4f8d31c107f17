package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func decodeItems(t *testing.T, raw string) []Item {
	t.Helper()
	items, err := DecodeItems([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return items
}

func TestItemVariantsAreDecidedOnDecode(t *testing.T) {
	items := decodeItems(t, `[null, false, true, 0, "", 250, 1.5, "hello", [1,2], {"a":1}, {"payload":{"x":1},"key":"k1"}, {"payload":"world"}, {"key":"k2"}, {"payload":"","key":7}]`)

	want := []struct {
		kind ItemKind
		body string
		key  string
	}{
		{ItemEmpty, "", ""},
		{ItemEmpty, "", ""},
		{ItemEmpty, "", ""},
		{ItemEmpty, "", ""},
		{ItemEmpty, "", ""},
		{ItemPause, "", ""},
		{ItemPause, "", ""},
		{ItemPayload, "hello", ""},
		{ItemPayload, "[1,2]", ""},
		{ItemPayload, `{"a":1}`, ""},
		{ItemPayload, `{"x":1}`, "k1"},
		{ItemPayload, "world", ""},
		{ItemPayload, "", "k2"},
		{ItemPayload, "", "7"},
	}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, w := range want {
		it := items[i]
		if it.Kind != w.kind {
			t.Fatalf("item %d: kind %s, want %s", i, it.Kind, w.kind)
		}
		if it.Kind != ItemPayload {
			continue
		}
		body, err := it.Payload.Body()
		if err != nil {
			t.Fatalf("item %d: body: %v", i, err)
		}
		if body != w.body || it.Payload.Key != w.key {
			t.Fatalf("item %d: body=%q key=%q, want body=%q key=%q", i, body, it.Payload.Key, w.body, w.key)
		}
	}
	if items[5].Pause != 250*time.Millisecond {
		t.Fatalf("expected 250ms pause, got %s", items[5].Pause)
	}
	if items[6].Pause != 1500*time.Microsecond {
		t.Fatalf("expected 1.5ms pause, got %s", items[6].Pause)
	}
}

func TestNegativePauseIsRejected(t *testing.T) {
	_, err := DecodeItems([]byte(`["a", -5]`))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestItemsReencodeUnchanged(t *testing.T) {
	raw := `["hello",50,{"payload":"world","key":"k1"},null,{"a": [1, 2]}]`
	out, err := EncodeItems(decodeItems(t, raw))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(out) != `["hello",50,{"payload":"world","key":"k1"},null,{"a":[1,2]}]` {
		t.Fatalf("unexpected encoding: %s", out)
	}
}

func TestConstructedItemsEncode(t *testing.T) {
	items := []Item{
		TextItem("a"),
		PauseItem(20 * time.Millisecond),
		KeyedItem("b", "k"),
		RecordItem(json.RawMessage(`{"x":1}`)),
		EmptyItem(),
	}
	out, err := EncodeItems(items)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(out) != `["a",20,{"payload":"b","key":"k"},{"x":1},null]` {
		t.Fatalf("unexpected encoding: %s", out)
	}

	back := decodeItems(t, string(out))
	if back[2].Payload.Key != "k" || back[1].Pause != 20*time.Millisecond || back[4].Kind != ItemEmpty {
		t.Fatalf("round trip lost information: %+v", back)
	}
}

func TestParseDefinitionValidationOrder(t *testing.T) {
	cases := []struct {
		body  string
		field string
		msg   string
	}{
		{`"just a string"`, "", "kafkaHost, messages and topic are required"},
		{`{"topic":"t","messages":["x"]}`, "kafkaHost", "kafkaHost is required"},
		{`{"kafkaHost":"b:9092","topic":"t","messages":[]}`, "messages", "at least one message is required"},
		{`{"kafkaHost":"b:9092","topic":"t"}`, "messages", "at least one message is required"},
		{`{"kafkaHost":"b:9092","messages":["x"]}`, "topic", "topic is required"},
		{`{"messages":[]}`, "kafkaHost", "kafkaHost is required"},
	}
	for _, tc := range cases {
		_, err := ParseDefinition([]byte(tc.body))
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.body, err)
		}
		if vErr.Field != tc.field || vErr.Msg != tc.msg {
			t.Fatalf("%s: got (%q, %q), want (%q, %q)", tc.body, vErr.Field, vErr.Msg, tc.field, tc.msg)
		}
	}
}

func TestParseStreamRequiresName(t *testing.T) {
	_, err := ParseStream([]byte(`{"kafkaHost":"b:9092","topic":"t","messages":["x"]}`))
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "name" {
		t.Fatalf("expected missing name, got %v", err)
	}

	s, err := ParseStream([]byte(`{"name":"orders","kafkaHost":"b:9092","topic":"t","messages":["x",10]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Name != "orders" || s.BrokerAddress != "b:9092" || len(s.Items) != 2 {
		t.Fatalf("unexpected stream: %+v", s)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{StatusNotStarted, StatusStarting, StatusConnected} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []JobStatus{StatusDone, StatusErrored} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}
