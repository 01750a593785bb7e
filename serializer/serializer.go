// Package serializer turns a batch of recorded samples into a single
// self-describing container blob ready for a backend write.
//
// The container is a text header line followed by length-prefixed binary
// frames, optionally compressed as a whole:
//
//	BUSREC_LP1|topic=<topic>|recording_id=<id>|count=<n>\n
//	u32 frame length (LE) ‖ frame, repeated n times
//
// Each frame carries {topic, timestamp_ns, payload} plus optional schema
// info. Payloads are opaque bytes; the serializer never inspects them.
package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/busrecorder/protocol"
)

// FormatName tags serialized containers in backend labels
const FormatName = "container/lp-v1"

// headerMagic starts every container
const headerMagic = "BUSREC_LP1"

// SchemaInfo describes the payload schema attached to frames of a topic
type SchemaInfo struct {
	Format     string
	SchemaName string
	SchemaHash string
}

// Frame is one decoded sample from a container
type Frame struct {
	Topic       string
	TimestampNS int64
	Payload     []byte
	Schema      *SchemaInfo
}

// Serializer encodes sample batches with a fixed compression policy.
// It is stateless after construction and safe for concurrent use.
type Serializer struct {
	compression protocol.Compression
	schema      *SchemaInfo // attached to every frame; nil to omit
}

// New creates a serializer for one (topic, compression) pairing. The schema
// info, when non-nil, is attached to every frame the serializer emits.
func New(compression protocol.Compression, schema *SchemaInfo) *Serializer {
	return &Serializer{
		compression: compression,
		schema:      schema,
	}
}

// Compression returns the serializer's compression policy
func (s *Serializer) Compression() protocol.Compression {
	return s.compression
}

// Batch is the serializer's input: push-ordered samples of one topic
type Batch struct {
	Topic       string
	RecordingID string
	Timestamps  []int64
	Payloads    [][]byte
}

// SerializeBatch encodes the batch into a container blob. Timestamps and
// Payloads must be the same length and in push order. An empty batch
// returns an empty blob.
func (s *Serializer) SerializeBatch(batch Batch) ([]byte, error) {
	n := len(batch.Payloads)
	if n == 0 {
		return nil, nil
	}
	if len(batch.Timestamps) != n {
		return nil, fmt.Errorf("serializer: %d timestamps for %d payloads", len(batch.Timestamps), n)
	}

	totalPayload := 0
	for _, p := range batch.Payloads {
		totalPayload += len(p)
	}

	// Pre-reserve output capacity: payload total with 5% headroom plus
	// per-frame framing and the header line.
	estimated := totalPayload + totalPayload/20 + n*(len(batch.Topic)+32) + 128
	buf := bytes.NewBuffer(make([]byte, 0, estimated))

	fmt.Fprintf(buf, "%s|topic=%s|recording_id=%s|count=%d\n",
		headerMagic, batch.Topic, batch.RecordingID, n)

	frame := make([]byte, 0, 256)
	for i := 0; i < n; i++ {
		frame = appendFrame(frame[:0], batch.Topic, batch.Timestamps[i], batch.Payloads[i], s.schema)

		var lenPrefix [4]byte
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(frame)))
		buf.Write(lenPrefix[:])
		buf.Write(frame)
	}

	return compress(buf.Bytes(), s.compression)
}

// appendFrame encodes one sample frame:
//
//	u16 topic len ‖ topic ‖ i64 timestamp_ns ‖ u32 payload len ‖ payload ‖
//	u8 schema flag ‖ [u16 format len ‖ format ‖ u16 name len ‖ name ‖
//	u16 hash len ‖ hash]
//
// All integers little-endian.
func appendFrame(dst []byte, topic string, tsNS int64, payload []byte, schema *SchemaInfo) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(topic)))
	dst = append(dst, topic...)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(tsNS))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, payload...)

	if schema == nil {
		return append(dst, 0)
	}
	dst = append(dst, 1)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(schema.Format)))
	dst = append(dst, schema.Format...)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(schema.SchemaName)))
	dst = append(dst, schema.SchemaName...)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(schema.SchemaHash)))
	dst = append(dst, schema.SchemaHash...)
	return dst
}

// DecodeBatch decompresses and parses a container blob. It returns the
// frames in their original push order. The compression type must match
// the one the container was written with (carried in backend labels).
func DecodeBatch(data []byte, compression protocol.CompressionType) ([]Frame, error) {
	if len(data) == 0 {
		return nil, nil
	}

	raw, err := decompress(data, compression)
	if err != nil {
		return nil, err
	}

	newline := bytes.IndexByte(raw, '\n')
	if newline < 0 {
		return nil, fmt.Errorf("serializer: missing container header")
	}
	header := string(raw[:newline])
	count, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	frames := make([]Frame, 0, count)
	rest := raw[newline+1:]
	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, fmt.Errorf("serializer: truncated frame length prefix")
		}
		frameLen := int(binary.LittleEndian.Uint32(rest))
		rest = rest[4:]
		if len(rest) < frameLen {
			return nil, fmt.Errorf("serializer: truncated frame: want %d bytes, have %d", frameLen, len(rest))
		}
		frame, err := decodeFrame(rest[:frameLen])
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		rest = rest[frameLen:]
	}

	if len(frames) != count {
		return nil, fmt.Errorf("serializer: header declares %d frames, found %d", count, len(frames))
	}
	return frames, nil
}

func parseHeader(header string) (int, error) {
	parts := strings.Split(header, "|")
	if len(parts) < 4 || parts[0] != headerMagic {
		return 0, fmt.Errorf("serializer: malformed container header %q", header)
	}
	countField := parts[len(parts)-1]
	if !strings.HasPrefix(countField, "count=") {
		return 0, fmt.Errorf("serializer: missing count in header %q", header)
	}
	count, err := strconv.Atoi(strings.TrimPrefix(countField, "count="))
	if err != nil {
		return 0, fmt.Errorf("serializer: bad count in header %q: %w", header, err)
	}
	return count, nil
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame

	topic, rest, err := readPrefixed16(data)
	if err != nil {
		return f, fmt.Errorf("serializer: frame topic: %w", err)
	}
	f.Topic = string(topic)

	if len(rest) < 8 {
		return f, fmt.Errorf("serializer: frame truncated at timestamp")
	}
	f.TimestampNS = int64(binary.LittleEndian.Uint64(rest))
	rest = rest[8:]

	if len(rest) < 4 {
		return f, fmt.Errorf("serializer: frame truncated at payload length")
	}
	payloadLen := int(binary.LittleEndian.Uint32(rest))
	rest = rest[4:]
	if len(rest) < payloadLen {
		return f, fmt.Errorf("serializer: frame truncated at payload")
	}
	f.Payload = append([]byte(nil), rest[:payloadLen]...)
	rest = rest[payloadLen:]

	if len(rest) < 1 {
		return f, fmt.Errorf("serializer: frame truncated at schema flag")
	}
	hasSchema := rest[0] == 1
	rest = rest[1:]
	if !hasSchema {
		return f, nil
	}

	var schema SchemaInfo
	format, rest, err := readPrefixed16(rest)
	if err != nil {
		return f, fmt.Errorf("serializer: schema format: %w", err)
	}
	schema.Format = string(format)

	name, rest, err := readPrefixed16(rest)
	if err != nil {
		return f, fmt.Errorf("serializer: schema name: %w", err)
	}
	schema.SchemaName = string(name)

	hash, _, err := readPrefixed16(rest)
	if err != nil {
		return f, fmt.Errorf("serializer: schema hash: %w", err)
	}
	schema.SchemaHash = string(hash)

	f.Schema = &schema
	return f, nil
}

func readPrefixed16(data []byte) (value, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint16(data))
	data = data[2:]
	if len(data) < n {
		return nil, nil, fmt.Errorf("truncated value: want %d bytes, have %d", n, len(data))
	}
	return data[:n], data[n:], nil
}
