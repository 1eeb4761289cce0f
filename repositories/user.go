package repositories

import (
	"context"
	"strings"
	"time"

	"convo-lab/contract"
	"convo-lab/domain"
	"convo-lab/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var _ contract.IUserRepository = (*UserRepository)(nil)

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db}
}

func userKey(email string) []byte {
	return []byte("user:" + strings.ToLower(email))
}

func userIDKey(id domain.UserID) []byte {
	return []byte("user_id:" + string(id))
}

// CreateUser persists the user and returns it with its generated ID.
// The password must already be hashed.
func (u *UserRepository) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, errors.Transient(err)
	}
	user.ID = domain.UserID(uuid.NewString())
	user.CreatedAt = time.Now().UTC()

	err := u.db.Update(func(txn *badger.Txn) error {
		key := userKey(user.Email)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err := txn.Set(key, encodeUser(user)); err != nil {
			return err
		}
		return txn.Set(userIDKey(user.ID), key)
	})
	if errors.Is(err, errors.ErrUserAlreadyExists) {
		return domain.User{}, err
	}
	if err != nil {
		return domain.User{}, storeError("create user", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user from Badger.
func (u *UserRepository) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, errors.Transient(err)
	}
	var user domain.User
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getUser(txn, userKey(email))
		return err
	})
	if err != nil {
		return domain.User{}, storeError("get user", err)
	}
	return user, nil
}

func (u *UserRepository) GetUserByID(ctx context.Context, id domain.UserID) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, errors.Transient(err)
	}
	var user domain.User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userIDKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		user, err = getUser(txn, key)
		return err
	})
	if err != nil {
		return domain.User{}, storeError("get user", err)
	}
	return user, nil
}

func getUser(txn *badger.Txn, key []byte) (domain.User, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return domain.User{}, err
	}
	return decodeUser(value)
}
