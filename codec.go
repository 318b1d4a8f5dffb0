/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageFormat is the wire encoding of one frame.
type MessageFormat int

const (
	FormatJSON MessageFormat = iota
	FormatProtobuf
)

// DefaultMaxMessageSize bounds an inbound frame, after decompression.
const DefaultMaxMessageSize int64 = 65536

var (
	errEmptyFrame    = errors.New("empty frame")
	errFrameTooLarge = errors.New("frame too large")
)

// Message is the JSON envelope shared by both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessageCodec encodes outbound frames in one format and decodes inbound
// frames in whichever format they arrive. Protobuf frames are a
// google.protobuf.Struct with "type" and "payload" fields. Gzipped
// inbound frames may not inflate past maxSize bytes.
type MessageCodec struct {
	format   MessageFormat
	compress bool
	maxSize  int64
}

func NewMessageCodec(format MessageFormat, compress bool, maxSize int64) *MessageCodec {
	if maxSize < 1 {
		maxSize = DefaultMaxMessageSize
	}

	return &MessageCodec{
		format:   format,
		compress: compress,
		maxSize:  maxSize,
	}
}

func parseFormat(s string) MessageFormat {
	if s == "protobuf" || s == "proto" {
		return FormatProtobuf
	}
	return FormatJSON
}

func (f MessageFormat) String() string {
	if f == FormatProtobuf {
		return "protobuf"
	}
	return "json"
}

// detectMessageFormat treats anything whose first non-space byte is '{'
// as JSON.
func detectMessageFormat(data []byte) MessageFormat {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 || data[0] == '{' {
		return FormatJSON
	}
	return FormatProtobuf
}

func isGzip(data []byte) bool {
	return len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b
}

// Encode returns the frame and whether it must be sent as a binary
// websocket message.
func (c *MessageCodec) Encode(msgType string, payload any) ([]byte, bool, error) {
	var (
		data []byte
		err  error
	)

	switch c.format {
	case FormatProtobuf:
		data, err = encodeProtobuf(msgType, payload)
	default:
		data, err = encodeJSON(msgType, payload)
	}
	if err != nil {
		return nil, false, err
	}

	if c.compress && c.format == FormatProtobuf {
		compressed, err := compressData(data)
		if err == nil && len(compressed) < len(data) {
			data = compressed
		}
	}

	return data, c.format == FormatProtobuf, nil
}

// Decode returns the message type and its payload as JSON.
func (c *MessageCodec) Decode(data []byte) (string, []byte, error) {
	if len(data) == 0 {
		return "", nil, errEmptyFrame
	}

	if isGzip(data) {
		decompressed, err := decompressData(data, c.maxSize)
		if err != nil {
			return "", nil, fmt.Errorf("decompress frame: %w", err)
		}
		data = decompressed
	}

	if detectMessageFormat(data) == FormatProtobuf {
		return decodeProtobuf(data)
	}

	return decodeJSON(data)
}

func encodeJSON(msgType string, payload any) ([]byte, error) {
	msg := Message{
		Type: msgType,
	}

	if payload != nil {
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		msg.Payload = payloadJSON
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	return data, nil
}

func decodeJSON(data []byte) (string, []byte, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", nil, fmt.Errorf("unmarshal message: %w", err)
	}

	return msg.Type, msg.Payload, nil
}

// encodeProtobuf round-trips the payload through JSON so the Struct holds
// exactly the fields the JSON encoding would.
func encodeProtobuf(msgType string, payload any) ([]byte, error) {
	fields := map[string]any{
		"type": msgType,
	}

	if payload != nil {
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}

		var generic any
		if err := json.Unmarshal(payloadJSON, &generic); err != nil {
			return nil, fmt.Errorf("convert payload: %w", err)
		}
		fields["payload"] = generic
	}

	envelope, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("convert to proto: %w", err)
	}

	data, err := proto.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal proto envelope: %w", err)
	}

	return data, nil
}

func decodeProtobuf(data []byte) (string, []byte, error) {
	envelope := &structpb.Struct{}
	if err := proto.Unmarshal(data, envelope); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	fields := envelope.GetFields()

	msgType := fields["type"].GetStringValue()
	if msgType == "" {
		return "", nil, errors.New("unmarshal envelope: missing type")
	}

	payload, ok := fields["payload"]
	if !ok {
		return msgType, nil, nil
	}

	payloadJSON, err := json.Marshal(payload.AsInterface())
	if err != nil {
		return "", nil, fmt.Errorf("convert payload: %w", err)
	}

	return msgType, payloadJSON, nil
}

func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressData(data []byte, limit int64) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	out, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(out)) > limit {
		return nil, errFrameTooLarge
	}

	return out, nil
}
