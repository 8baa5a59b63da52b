package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/rewear/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反エラーコード。
const uniqueViolation = "23505"

// PostgresCredentialRepo はPostgreSQLを使用した資格情報リポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

const credentialColumns = `user_id, email, password_hash, username, created_at, updated_at`

// FindByEmail はメールアドレスで資格情報を検索する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE email = $1`,
		email,
	)
	cred, err := scanCredential(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential by email: %w", err)
	}
	return cred, nil
}

// FindByUserID はユーザーIDで資格情報を検索する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByUserID(ctx context.Context, userID string) (*model.Credential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = $1`,
		userID,
	)
	cred, err := scanCredential(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential by user ID: %w", err)
	}
	return cred, nil
}

// Create は資格情報を作成する。
// メールアドレスの一意制約に違反した場合はErrDuplicateEmailを返す。
func (r *PostgresCredentialRepo) Create(ctx context.Context, cred *model.Credential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, email, password_hash, username, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		cred.UserID, cred.Email, cred.PasswordHash, nullString(cred.Username), cred.CreatedAt, cred.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

// scanCredential は1行をCredentialに変換する。行がない場合はnil, nilを返す。
func scanCredential(row *sql.Row) (*model.Credential, error) {
	cred := &model.Credential{}
	var username sql.NullString
	err := row.Scan(&cred.UserID, &cred.Email, &cred.PasswordHash, &username, &cred.CreatedAt, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cred.Username = nullStringValue(username)
	return cred, nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
