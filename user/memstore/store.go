package memstore

import (
	"context"
	"strings"

	"github.com/hashicorp/go-memdb"
	"github.com/liestudio/studio/user"
)

const table = "users"

var dbSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		table: {
			Name: table,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:         "id",
					Unique:       true,
					AllowMissing: false,
					Indexer:      &memdb.IntFieldIndex{Field: "UID"},
				},
				"username": {
					Name:         "username",
					Unique:       true,
					AllowMissing: false,
					Indexer:      &memdb.StringFieldIndex{Field: "Username", Lowercase: true},
				},
				"email": {
					Name:         "email",
					Unique:       true,
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "Email", Lowercase: true},
				},
				"session": {
					Name:         "session",
					Unique:       false,
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "SessionID"},
				},
			},
		},
	},
}

// Store represents the in-memory user repository built using hashicorp/go-memdb.
// Stored objects are never mutated; updates insert a modified copy.
type Store struct {
	db *memdb.MemDB
}

var _ user.Repository = (*Store)(nil)

// New creates a new empty in-memory user repository
func New() (*Store, error) {
	db, err := memdb.NewMemDB(dbSchema)
	if err != nil {
		return nil, err
	}
	return &Store{db}, nil
}

// GetByUID retrieves a user by uid
func (store *Store) GetByUID(_ context.Context, uid int64) (*user.User, error) {
	return store.first("id", uid)
}

// GetByUsername retrieves a user by username, ignoring case
func (store *Store) GetByUsername(_ context.Context, username string) (*user.User, error) {
	if username == "" {
		return nil, nil
	}
	return store.first("username", username)
}

// GetByEmail retrieves a user by email address, ignoring case
func (store *Store) GetByEmail(_ context.Context, email string) (*user.User, error) {
	if email == "" {
		return nil, nil
	}
	return store.first("email", email)
}

// GetBySessionID retrieves the user bound to a session
func (store *Store) GetBySessionID(_ context.Context, sessionID string) (*user.User, error) {
	if sessionID == "" {
		return nil, nil
	}
	return store.first("session", sessionID)
}

// Count returns the number of users
func (store *Store) Count(_ context.Context) (int, error) {
	txn := store.db.Txn(false)
	it, err := txn.Get(table, "id")
	if err != nil {
		return 0, err
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n, nil
}

// Create creates a new user
func (store *Store) Create(_ context.Context, create *user.Create) (*user.User, error) {
	txn := store.db.Txn(true)
	defer txn.Abort()

	if obj, err := txn.First(table, "username", create.Username); err != nil {
		return nil, err
	} else if obj != nil {
		return nil, user.ErrUsernameTaken
	}
	if create.Email != "" {
		if obj, err := txn.First(table, "email", create.Email); err != nil {
			return nil, err
		} else if obj != nil {
			return nil, user.ErrEmailTaken
		}
	}

	// The uid index is not order preserving, so the maximum is found by a scan.
	it, err := txn.Get(table, "id")
	if err != nil {
		return nil, err
	}
	uid := int64(-1)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if u := obj.(*user.User); u.UID > uid {
			uid = u.UID
		}
	}
	uid++

	obj := &user.User{
		UID:          uid,
		Username:     create.Username,
		Email:        create.Email,
		PasswordHash: create.PasswordHash,
		Role:         create.Role,
	}
	if err := txn.Insert(table, obj); err != nil {
		return nil, err
	}
	txn.Commit()

	cpy := *obj
	return &cpy, nil
}

// Update updates an existing user
func (store *Store) Update(_ context.Context, uid int64, update *user.Update) (*user.User, error) {
	txn := store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(table, "id", uid)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, user.ErrUserNotFound
	}

	obj := *raw.(*user.User)
	if update.Email != nil && !strings.EqualFold(*update.Email, obj.Email) {
		if *update.Email != "" {
			if other, err := txn.First(table, "email", *update.Email); err != nil {
				return nil, err
			} else if other != nil {
				return nil, user.ErrEmailTaken
			}
		}
		obj.Email = *update.Email
	}
	if update.PasswordHash != nil {
		obj.PasswordHash = *update.PasswordHash
	}
	if update.Role != nil {
		obj.Role = *update.Role
	}
	if update.SessionID != nil {
		obj.SessionID = *update.SessionID
	}

	if err := txn.Insert(table, &obj); err != nil {
		return nil, err
	}
	txn.Commit()

	cpy := obj
	return &cpy, nil
}

// ClearSessions unbinds every user from its session
func (store *Store) ClearSessions(_ context.Context) (int, error) {
	txn := store.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(table, "id")
	if err != nil {
		return 0, err
	}
	var bound []user.User
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if u := obj.(*user.User); u.SessionID != "" {
			bound = append(bound, *u)
		}
	}
	for i := range bound {
		bound[i].SessionID = ""
		if err := txn.Insert(table, &bound[i]); err != nil {
			return 0, err
		}
	}
	txn.Commit()
	return len(bound), nil
}

// Delete deletes a user by uid
func (store *Store) Delete(_ context.Context, uid int64) error {
	txn := store.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(table, "id", uid); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (store *Store) first(index string, arg any) (*user.User, error) {
	txn := store.db.Txn(false)
	obj, err := txn.First(table, index, arg)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	cpy := *obj.(*user.User)
	return &cpy, nil
}
