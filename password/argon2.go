package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"

	// DefaultMinLength is used when Config.MinLength is zero.
	DefaultMinLength = 10
	// DefaultMaxLength is used when Config.MaxLength is zero.
	DefaultMaxLength = 1024
)

var (
	// ErrTooShort is returned by Hash for passwords below the configured minimum.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned by Hash and Verify before any key derivation.
	ErrTooLong = errors.New("password too long")
)

// Config holds the Argon2id cost parameters and the minimum password
// length accepted by Hash.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxLength   int
}

// DefaultConfig returns the parameters used by the LIEStudio server.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   6,
		MaxLength:   DefaultMaxLength,
	}
}

// Hasher hashes and checks passwords. *Argon2 implements it.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Argon2 hashes passwords with Argon2id into PHC strings.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = DefaultMinLength
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = DefaultMaxLength
	}

	return &Argon2{config: cfg}, nil
}

// Hash returns the PHC encoding of password under a fresh salt. The raw
// bytes are hashed; there is no Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if len(password) < a.config.MinLength {
		return "", fmt.Errorf("%w: need at least %d bytes", ErrTooShort, a.config.MinLength)
	}
	if len(password) > a.config.MaxLength {
		return "", ErrTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	h := phc{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        salt,
	}
	h.key = h.derive(password, a.config.KeyLength)
	return h.String(), nil
}

// Verify reports whether password matches encodedHash. A malformed hash is
// an error, a mismatch is not.
func (a *Argon2) Verify(password string, encodedHash string) (bool, error) {
	if len(password) > a.config.MaxLength {
		return false, ErrTooLong
	}
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.derive(password, uint32(len(h.key))), h.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the hasher's, so the caller can rehash after a successful
// login.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return a.config.Memory > h.memory ||
		a.config.Time > h.time ||
		a.config.Parallelism > h.parallelism ||
		a.config.KeyLength != uint32(len(h.key)), nil
}

// phc is one Argon2id hash in PHC string form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// Salt and key are base64 without padding; padded values are accepted.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (h phc) derive(password string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.parallelism, keyLen)
}

func (h phc) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "$%s$v=%d$m=%d,t=%d,p=%d$", algorithmID, argon2.Version, h.memory, h.time, h.parallelism)
	b.WriteString(base64.RawStdEncoding.EncodeToString(h.salt))
	b.WriteByte('$')
	b.WriteString(base64.RawStdEncoding.EncodeToString(h.key))
	return b.String()
}

var (
	errPHCFormat  = errors.New("invalid PHC format")
	errPHCVersion = errors.New("unsupported argon2 version")
	errPHCParams  = errors.New("invalid argon2 parameters")
)

func parsePHC(encoded string) (phc, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != algorithmID {
		return phc{}, errPHCFormat
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return phc{}, errPHCFormat
	}
	if version != argon2.Version {
		return phc{}, errPHCVersion
	}

	var (
		h        phc
		parallel uint32
	)
	n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &parallel)
	if err != nil || n != 3 || fields[3] != fmt.Sprintf("m=%d,t=%d,p=%d", h.memory, h.time, parallel) {
		return phc{}, errPHCParams
	}
	if h.memory < minMemoryKB || h.time < minTimeCost || parallel < uint32(minParallelism) || parallel > 255 {
		return phc{}, errPHCParams
	}
	h.parallelism = uint8(parallel)

	if h.salt, err = decodeB64(fields[4]); err != nil || len(h.salt) < int(minSaltLength) {
		return phc{}, fmt.Errorf("%w: salt", errPHCFormat)
	}
	if h.key, err = decodeB64(fields[5]); err != nil || len(h.key) == 0 {
		return phc{}, fmt.Errorf("%w: key", errPHCFormat)
	}
	return h, nil
}

func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	if cfg.MinLength < 0 {
		return errors.New("password minimum length must be >= 0")
	}
	if cfg.MaxLength < 0 || (cfg.MaxLength > 0 && cfg.MaxLength < cfg.MinLength) {
		return errors.New("password maximum length must be >= minimum length")
	}

	return nil
}
