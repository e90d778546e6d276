package asset

import (
	"bytes"
	"errors"
	"testing"
)

func TestHashOf(t *testing.T) {
	payload := []byte("some texture bytes")

	if HashOf(KindTexture, payload) != HashOf(KindTexture, append([]byte(nil), payload...)) {
		t.Fatal("expected identical payloads to hash identically")
	}
	if HashOf(KindTexture, payload) == HashOf(KindGeometry, payload) {
		t.Fatal("expected resource kind to be part of the identity")
	}
	if HashOf(KindTexture, payload) == HashOf(KindTexture, payload[1:]) {
		t.Fatal("expected different payloads to hash differently")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 256)
	res := NewResource(KindGeometry, "grid", payload)

	compressed, err := res.Compress()
	if err != nil {
		t.Fatal(err)
	}
	if !compressed.Compressed || compressed.CompressedSize >= compressed.Size {
		t.Fatalf("expected a smaller compressed payload; got %d of %d bytes", compressed.CompressedSize, compressed.Size)
	}
	if compressed.Hash != res.Hash {
		t.Fatal("expected compression to preserve the content identity")
	}
	if res.Compressed {
		t.Fatal("expected the source resource to be left untouched")
	}

	out, err := compressed.Payload()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("expected decompressed payload to match the source")
	}
}

func TestIncompressibleResourceStaysRaw(t *testing.T) {
	res := NewResource(KindBlob, "tiny", []byte{1, 2, 3})
	out, err := res.Compress()
	if err != nil {
		t.Fatal(err)
	}
	if out.Compressed {
		t.Fatal("expected tiny payload to stay uncompressed")
	}
}

func TestPayloadSizeMismatch(t *testing.T) {
	payload := bytes.Repeat([]byte("abcd"), 512)
	compressed, err := NewResource(KindTexture, "", payload).Compress()
	if err != nil {
		t.Fatal(err)
	}

	type spec struct {
		declared uint32
	}
	specs := []spec{
		{uint32(len(payload)) - 1},
		{uint32(len(payload)) + 1},
		{16},
	}

	for index, s := range specs {
		bad := *compressed
		bad.Size = s.declared
		_, err := bad.Payload()

		var corruption *CorruptionError
		if !errors.As(err, &corruption) || !errors.Is(err, ErrCorrupted) {
			t.Fatalf("[spec %d] expected a corruption error; got %v", index, err)
		}
		if corruption.Declared != s.declared {
			t.Fatalf("[spec %d] expected declared size %d; got %d", index, s.declared, corruption.Declared)
		}
	}
}

func TestResourceCodec(t *testing.T) {
	payload := bytes.Repeat([]byte("xyzw"), 300)
	src, _ := NewResource(KindEffect, "shader", payload).Compress()

	decoded, err := DecodeResource(EncodeResource(src))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Descriptor != src.Descriptor || decoded.Name != "shader" {
		t.Fatalf("expected descriptor %+v; got %+v", src.Descriptor, decoded.Descriptor)
	}
	out, err := decoded.Payload()
	if err != nil || !bytes.Equal(out, payload) {
		t.Fatalf("expected decoded payload to match; err: %v", err)
	}

	if _, err = DecodeResource([]byte{0x0a, 0x01, 0x00}); err == nil {
		t.Fatal("expected malformed hash to be rejected")
	}
	if _, err = FromStored(src.Descriptor, "", payload[:10]); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected stored size mismatch to be reported as corruption; got %v", err)
	}
}

func TestPool(t *testing.T) {
	pool := NewPool()
	res := NewResource(KindBlob, "a", []byte("a"))
	if !pool.Put(res) || pool.Put(NewResource(KindBlob, "a-again", []byte("a"))) {
		t.Fatal("expected only the first put of an identity to succeed")
	}
	if got, ok := pool.Resolve(res.Hash); !ok || got != res {
		t.Fatal("expected to resolve the first resource")
	}
	pool.Remove(res.Hash)
	if pool.Has(res.Hash) || pool.Len() != 0 {
		t.Fatal("expected resource to be removed")
	}
}
