package postgres

import (
	"errors"

	"github.com/lib/pq"
)

// SQLSTATE classes the repositories translate into domain errors.
const (
	codeUniqueViolation     pq.ErrorCode = "23505"
	codeForeignKeyViolation pq.ErrorCode = "23503"
)

const (
	constraintUsersEmail   = "users_email_key"
	constraintSessionToken = "sessions_token_key"
	constraintSessionUser  = "sessions_user_id_fkey"
)

// violates reports whether err carries the given SQLSTATE raised by
// constraint. An empty constraint matches any constraint with that code.
func violates(err error, code pq.ErrorCode, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func IsUniqueViolation(err error, constraint string) bool {
	return violates(err, codeUniqueViolation, constraint)
}

func IsForeignKeyViolation(err error, constraint string) bool {
	return violates(err, codeForeignKeyViolation, constraint)
}
