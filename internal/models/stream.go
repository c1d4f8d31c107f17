package models

import (
	"bytes"
	"encoding/json"
)

// QueueDefinition is an ordered list of items bound for one topic on one
// broker. A running job never modifies it.
type QueueDefinition struct {
	BrokerAddress string `json:"kafkaHost"`
	Topic         string `json:"topic"`
	Items         []Item `json:"messages"`
}

// Validate checks the required fields in request order.
func (d QueueDefinition) Validate() error {
	if d.BrokerAddress == "" {
		return &ValidationError{Field: "kafkaHost", Msg: "kafkaHost is required"}
	}
	if len(d.Items) == 0 {
		return &ValidationError{Field: "messages", Msg: "at least one message is required"}
	}
	if d.Topic == "" {
		return &ValidationError{Field: "topic", Msg: "topic is required"}
	}
	return nil
}

// Stream is a named queue definition as kept by the store.
type Stream struct {
	Name string `json:"name"`
	QueueDefinition
}

// Validate checks the definition, then the name.
func (s Stream) Validate() error {
	if err := s.QueueDefinition.Validate(); err != nil {
		return err
	}
	if s.Name == "" {
		return &ValidationError{Field: "name", Msg: "name is required"}
	}
	return nil
}

var errNotObject = &ValidationError{Msg: "kafkaHost, messages and topic are required"}

// ParseDefinition decodes and validates a request body.
func ParseDefinition(data []byte) (QueueDefinition, error) {
	var def QueueDefinition
	if err := decodeObjectBody(data, &def); err != nil {
		return QueueDefinition{}, err
	}
	if err := def.Validate(); err != nil {
		return QueueDefinition{}, err
	}
	return def, nil
}

// ParseStream decodes and validates a named definition.
func ParseStream(data []byte) (Stream, error) {
	var s Stream
	if err := decodeObjectBody(data, &s); err != nil {
		return Stream{}, err
	}
	if err := s.Validate(); err != nil {
		return Stream{}, err
	}
	return s, nil
}

func decodeObjectBody(data []byte, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return errNotObject
	}
	return json.Unmarshal(data, v)
}

// DecodeItems parses a stored "messages" array.
func DecodeItems(data []byte) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// EncodeItems renders items as the stored "messages" array.
func EncodeItems(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(items)
}
