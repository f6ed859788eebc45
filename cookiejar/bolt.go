package cookiejar

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

var cookieBucket = []byte("Cookies")

// Bolt is a Jar backed by a bolt database file.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBolt opens (or creates) the jar at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cookie jar %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cookieBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db, now: time.Now}, nil
}

// Close releases the database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Get(name string) (Cookie, error) {
	var c Cookie
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(cookieBucket).Get([]byte(name))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &c)
	})
	if err != nil {
		return Cookie{}, err
	}
	if c.expired(b.now()) {
		if err := b.Delete(name); err != nil {
			return Cookie{}, err
		}
		return Cookie{}, ErrNotFound
	}
	return c, nil
}

func (b *Bolt) Set(c Cookie) error {
	if c.Name == "" {
		return errors.New("cookie name required")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cookieBucket).Put([]byte(c.Name), raw)
	})
}

func (b *Bolt) Delete(name string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cookieBucket).Delete([]byte(name))
	})
}
