// util/compress.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeCompressed writes obj to w as zstd-compressed msgpack.
func EncodeCompressed(w io.Writer, obj any) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	if err := msgpack.NewEncoder(zw).Encode(obj); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// DecodeCompressed reads zstd-compressed msgpack written by
// EncodeCompressed from r into obj.
func DecodeCompressed(r io.Reader, obj any) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	return msgpack.NewDecoder(zr).Decode(obj)
}

// CompressedBytes returns the EncodeCompressed encoding of obj.
func CompressedBytes(obj any) ([]byte, error) {
	var b bytes.Buffer
	if err := EncodeCompressed(&b, obj); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
