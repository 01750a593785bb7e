package serializer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/c360/busrecorder/protocol"
)

// compress applies the batch's compression policy to a serialized container
func compress(data []byte, compression protocol.Compression) ([]byte, error) {
	switch compression.Type {
	case protocol.CompressionNone:
		return data, nil
	case protocol.CompressionLZ4:
		return compressLZ4(data, compression.Level)
	case protocol.CompressionZstd:
		return compressZstd(data, compression.Level)
	default:
		return nil, fmt.Errorf("serializer: unsupported compression type %q", compression.Type)
	}
}

// decompress reverses compress for a known compression type
func decompress(data []byte, compressionType protocol.CompressionType) ([]byte, error) {
	switch compressionType {
	case protocol.CompressionNone:
		return data, nil
	case protocol.CompressionLZ4:
		return decompressLZ4(data)
	case protocol.CompressionZstd:
		return decompressZstd(data)
	default:
		return nil, fmt.Errorf("serializer: unsupported compression type %q", compressionType)
	}
}

// LZ4 uses the frame format so readers do not need the uncompressed size.

func compressLZ4(data []byte, level protocol.CompressionLevel) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(data) / 2)

	writer := lz4.NewWriter(&out)
	if err := writer.Apply(lz4.CompressionLevelOption(lz4Level(level))); err != nil {
		return nil, fmt.Errorf("lz4 configure: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("lz4 finish: %w", err)
	}
	return out.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}

// lz4Level maps the 0-4 policy level onto the lz4 library's level set
func lz4Level(level protocol.CompressionLevel) lz4.CompressionLevel {
	switch level.LZ4Level() {
	case 1:
		return lz4.Fast
	case 3:
		return lz4.Level3
	case 5:
		return lz4.Level5
	default:
		// Levels above the library's range clamp to its maximum
		return lz4.Level9
	}
}

func compressZstd(data []byte, level protocol.CompressionLevel) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level.ZstdLevel())),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// zstdDecoder is reused across calls; zstd.Decoder is safe for concurrent
// use via DecodeAll.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("serializer: zstd decoder initialization failed: " + err.Error())
	}
}

func decompressZstd(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
