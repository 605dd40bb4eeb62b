package vector

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/lspecian/vexfs-sub002/pkg/vexfserr"
)

// Compress encodes payload with zstd. StoreVector/UpdateVector call this
// internally when FlagCompressed is set on the Descriptor, and LoadVector
// calls Decompress to reverse it, so the extent CRC and ByteLength always
// cover the bytes actually stored on disk, compressed or not.
func Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, vexfserr.New(vexfserr.IOError, "vector.Compress", err)
	}
	if _, err := enc.Write(payload); err != nil {
		enc.Close()
		return nil, vexfserr.New(vexfserr.IOError, "vector.Compress", err)
	}
	if err := enc.Close(); err != nil {
		return nil, vexfserr.New(vexfserr.IOError, "vector.Compress", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, vexfserr.New(vexfserr.IOError, "vector.Decompress", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, vexfserr.New(vexfserr.IOError, "vector.Decompress", err)
	}
	return out, nil
}
