package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"testing"
	"time"
)

func TestEncodeRejectsLongFields(t *testing.T) {
	rec := testRecord("x")
	rec.Username = strings.Repeat("u", 256)
	if _, err := Encode(rec); err == nil {
		t.Fatal("expected error for oversized username")
	}
}

func TestDecodeRejectsUnsupportedSchemaVersion(t *testing.T) {
	_, err := Decode([]byte{99})
	if err == nil || !strings.Contains(err.Error(), "unsupported session schema version") {
		t.Fatalf("expected unsupported schema version error, got %v", err)
	}
}

func TestGetMigratesLegacySchemaToCurrent(t *testing.T) {
	reg, rdb, _ := newRegistryTest(t)
	ctx := context.Background()
	legacy := testRecord("sid-legacy")

	key := reg.key(legacy.SessionID)
	if err := rdb.Set(ctx, key, encodeLegacyV1Record(t, legacy), time.Hour).Err(); err != nil {
		t.Fatalf("seed legacy record failed: %v", err)
	}

	rec, err := reg.Get(ctx, legacy.SessionID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("expected migrated schema version %d, got %d", CurrentSchemaVersion, rec.SchemaVersion)
	}
	if rec.AuthMethod != "" || rec.Username != legacy.Username {
		t.Fatalf("unexpected migrated record: %+v", rec)
	}

	raw, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		t.Fatalf("read migrated blob failed: %v", err)
	}
	if len(raw) == 0 || raw[0] != CurrentSchemaVersion {
		t.Fatalf("expected stored schema byte %d, got %v", CurrentSchemaVersion, raw)
	}
	if ttl := rdb.TTL(ctx, key).Val(); ttl <= 0 {
		t.Fatalf("migration dropped the ttl: %v", ttl)
	}
}

func encodeLegacyV1Record(tb testing.TB, r *Record) []byte {
	tb.Helper()

	var buf bytes.Buffer
	buf.WriteByte(1)
	for _, s := range []string{r.UserID, r.Username, r.Role} {
		buf.WriteByte(byte(len(s)))
		buf.WriteString(s)
	}
	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		tb.Fatalf("write createdAt failed: %v", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		tb.Fatalf("write expiresAt failed: %v", err)
	}
	return buf.Bytes()
}

// FuzzRecordDecode exercises the binary decoder with arbitrary inputs.
func FuzzRecordDecode(f *testing.F) {
	encoded, err := Encode(&Record{
		UserID:     "0",
		Username:   "lieadmin",
		Role:       "admin",
		AuthMethod: "wampcra",
		CreatedAt:  1700000000,
		ExpiresAt:  1700003600,
	})
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:10])
	}
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{2, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		r, err := Decode(data)
		if err != nil {
			return
		}
		if r.SchemaVersion == CurrentSchemaVersion {
			again, err := Encode(r)
			if err != nil {
				t.Fatalf("re-encode failed: %v", err)
			}
			if !bytes.Equal(again, data) {
				t.Fatalf("re-encode differs")
			}
		}
	})
}
