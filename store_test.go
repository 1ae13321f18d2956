package fieldsync

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "queue/1", []byte("a")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := store.Get(ctx, "queue/1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "a" {
		t.Errorf("expected %q, got %q", "a", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}

	if err := store.Delete(ctx, "queue/1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "queue/1"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist after delete, got %v", err)
	}
}

func TestMemoryStoreListKeysByPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"queue/1", "queue/2", "meta/seq"} {
		if err := store.Set(ctx, key, []byte("x")); err != nil {
			t.Fatalf("set %s failed: %v", key, err)
		}
	}

	keys, err := store.ListKeys(ctx, "queue/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %d: %v", len(keys), keys)
	}
}

func TestMemoryStoreSnapshotRestore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	restored := NewMemoryStoreFrom(store.Snapshot())
	got, err := restored.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get from restored store failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("expected %q, got %q", "v", got)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if err := store.Set(ctx, "queue/00001", []byte("payload")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := store.Get(ctx, "queue/00001")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("expected %q, got %q", "payload", got)
	}

	keys, err := store.ListKeys(ctx, "queue/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "queue/00001" {
		t.Errorf("expected [queue/00001], got %v", keys)
	}

	if err := store.Delete(ctx, "queue/00001"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "queue/00001"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestFileStoreRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Set(context.Background(), "../escape", []byte("x")); err == nil {
		t.Error("expected error for traversal key")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape")); err == nil {
		t.Error("traversal key escaped the store root")
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	if err := store.Set(ctx, "queue/1", []byte("persisted")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen file store: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, err := reopened.Get(ctx, "queue/1")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if string(got) != "persisted" {
		t.Errorf("expected %q, got %q", "persisted", got)
	}
}

func TestCodecCompressedRoundTrip(t *testing.T) {
	c, err := newCodec(CodecConfig{Compress: true})
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	plain := bytes.Repeat([]byte("abcdefgh"), 512)
	encoded, err := c.Encode(plain)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(encoded) >= len(plain) {
		t.Errorf("expected compression to shrink %d bytes, got %d", len(plain), len(encoded))
	}

	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, plain) {
		t.Error("decoded data does not match original")
	}
}

func TestCodecEncryptedRoundTrip(t *testing.T) {
	c, err := newCodec(CodecConfig{
		Compress:   true,
		Encryption: EncryptionConfig{Enabled: true, KeyPassword: "correct horse"},
	})
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	plain := []byte(`{"seq":1,"mutation":{"id":"mut-1"}}`)
	encoded, err := c.Encode(plain)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if bytes.Contains(encoded, []byte("mut-1")) {
		t.Error("encrypted envelope leaks plaintext")
	}

	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, plain) {
		t.Error("decoded data does not match original")
	}
}

func TestCodecDecodeAcrossInstances(t *testing.T) {
	// A new codec with the same password must decode envelopes written by a
	// previous session (the salt travels in the envelope).
	config := CodecConfig{Encryption: EncryptionConfig{Enabled: true, KeyPassword: "pw"}}
	writer, err := newCodec(config)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	encoded, err := writer.Encode([]byte("state"))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	reader, err := newCodec(config)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	decoded, err := reader.Decode(encoded)
	if err != nil {
		t.Fatalf("decode across instances failed: %v", err)
	}
	if string(decoded) != "state" {
		t.Errorf("expected %q, got %q", "state", decoded)
	}
}

func TestCodecRejectsCorruptEnvelope(t *testing.T) {
	c, err := newCodec(DefaultCodecConfig())
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	if _, err := c.Decode([]byte("not an envelope")); !errors.Is(err, ErrStoreCorruption) {
		t.Errorf("expected ErrStoreCorruption, got %v", err)
	}

	encoded, err := c.Encode(bytes.Repeat([]byte("data"), 64))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	truncated := encoded[:len(encoded)/2]
	if _, err := c.Decode(truncated); !errors.Is(err, ErrStoreCorruption) {
		t.Errorf("expected ErrStoreCorruption for truncated envelope, got %v", err)
	}
}

func TestEncryptorRejectsTamperedCiphertext(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	sealed, err := enc.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := enc.Decrypt(sealed); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}
