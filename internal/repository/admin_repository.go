package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/lab-device-reservation/internal/model"
	"github.com/iliyamo/lab-device-reservation/internal/utils"
)

type AdminRepo struct{ DB *sql.DB }

func NewAdminRepo(db *sql.DB) *AdminRepo { return &AdminRepo{DB: db} }

// Create hashes password and inserts the admin, returning its ID.
func (r *AdminRepo) Create(ctx context.Context, username, password string, cost int) (uint64, error) {
	username = normalizeUsername(username)
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO admins (username, password_hash, created_at) VALUES (?,?,?)",
		username, hash, formatTime(time.Now()))
	if err != nil {
		if isDuplicateKey(err) {
			return 0, ErrUsernameExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByUsername fetches an admin by normalized username.  sql.ErrNoRows
// is returned unchanged when it does not exist.
func (r *AdminRepo) GetByUsername(ctx context.Context, username string) (model.Admin, error) {
	return r.getOne(ctx, "username=?", normalizeUsername(username))
}

// GetByID fetches an admin by id.
func (r *AdminRepo) GetByID(ctx context.Context, id uint64) (model.Admin, error) {
	return r.getOne(ctx, "id=?", id)
}

func (r *AdminRepo) getOne(ctx context.Context, where string, arg any) (model.Admin, error) {
	var a model.Admin
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,username,password_hash,created_at FROM admins WHERE "+where+" LIMIT 1",
		arg).Scan(&a.ID, &a.Username, &a.PasswordHash, timeScanner{&a.CreatedAt})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Admin{}, err
	}
	return a, err
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
