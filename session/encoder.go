package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	recordFormatV1 uint8 = 1
	recordFormatV2 uint8 = 2

	// CurrentSchemaVersion is the version written by Encode.
	CurrentSchemaVersion = recordFormatV2
)

// Encode serializes r in the current schema. The session id is not part of
// the blob; it is the Redis key.
func Encode(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(CurrentSchemaVersion)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"userID", r.UserID},
		{"username", r.Username},
		{"role", r.Role},
		{"authMethod", r.AuthMethod},
	} {
		if len(field.value) > 255 {
			return nil, fmt.Errorf("%s too long", field.name)
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a blob written by any supported schema version. Version 1
// records have no auth method.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatV1 && version != recordFormatV2 {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	r := &Record{SchemaVersion: version}
	if r.UserID, err = readShortString(reader); err != nil {
		return nil, err
	}
	if r.Username, err = readShortString(reader); err != nil {
		return nil, err
	}
	if r.Role, err = readShortString(reader); err != nil {
		return nil, err
	}
	if version >= recordFormatV2 {
		if r.AuthMethod, err = readShortString(reader); err != nil {
			return nil, err
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes after session record")
	}
	return r, nil
}

func readShortString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
