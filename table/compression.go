package table

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ZSTD encoder/decoder pools. EncodeAll with a fixed level and a single
// goroutine is deterministic, which keeps builds byte-identical.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderCRC(false),
	)
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

// encodeBlock frames a raw block for disk: header, payload, crc trailer.
// Blocks that do not shrink below 90% are stored raw.
func encodeBlock(dst, raw []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("table: lz4 compress: %w", err)
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("table: zstd encoder: %w", err)
		}
		compressed = enc.EncodeAll(raw, nil)
		zstdEncoderPool.Put(enc)
	}

	start := len(dst)
	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(raw)))
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(raw))*0.9 {
		dst = append(dst, hdr[:]...)
		dst = append(dst, raw...)
	} else {
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(compressed)))
		dst = append(dst, hdr[:]...)
		dst = append(dst, compressed...)
	}
	return binary.LittleEndian.AppendUint32(dst, crc32.ChecksumIEEE(dst[start:])), nil
}

// decodeBlock verifies and decompresses an on-disk block. off is used for
// error reporting only.
func decodeBlock(stored []byte, c Compression, off int64) ([]byte, error) {
	if len(stored) < blockHeaderSize+blockTrailerSize {
		return nil, corruptf("block at %d too small", off)
	}
	body := stored[:len(stored)-blockTrailerSize]
	want := binary.LittleEndian.Uint32(stored[len(body):])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, &ChecksumError{Section: "block", Offset: off, Expected: want, Actual: got}
	}

	rawLen := binary.LittleEndian.Uint32(body[0:])
	storedLen := binary.LittleEndian.Uint32(body[4:])
	payload := body[blockHeaderSize:]

	if storedLen == 0 {
		if uint32(len(payload)) != rawLen {
			return nil, corruptf("block at %d length mismatch", off)
		}
		return payload, nil
	}
	if uint32(len(payload)) != storedLen {
		return nil, corruptf("block at %d length mismatch", off)
	}

	switch c {
	case CompressionLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil || uint32(n) != rawLen {
			return nil, corruptf("block at %d: lz4: %v", off, err)
		}
		return out, nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("table: zstd decoder: %w", err)
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil || uint32(len(out)) != rawLen {
			return nil, corruptf("block at %d: zstd: %v", off, err)
		}
		return out, nil
	default:
		return nil, corruptf("block at %d compressed with unknown codec", off)
	}
}
