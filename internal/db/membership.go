package db

import (
	"context"
	"database/sql"
	"strconv"
	"time"
)

// MembershipRepository answers room membership straight from the chat
// service's participants table. It is the postgres authorizer backend.
type MembershipRepository struct {
	db      *sql.DB
	timeout time.Duration
}

func NewMembershipRepository(db *sql.DB, timeout time.Duration) *MembershipRepository {
	return &MembershipRepository{db: db, timeout: timeout}
}

const memberQuery = `
	SELECT EXISTS (
		SELECT 1 FROM participants
		WHERE conversation_id = $1::int AND user_id = $2::int
	)`

// IsMember ignores the token: the database trusts the gateway's own
// verification of it. Ids that are not integers name no participant.
func (r *MembershipRepository) IsMember(ctx context.Context, userID, chatID, _ string) (bool, error) {
	conversation, err := strconv.Atoi(chatID)
	if err != nil {
		return false, nil
	}
	user, err := strconv.Atoi(userID)
	if err != nil {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// EXISTS always yields one row.
	var ok bool
	if err := r.db.QueryRowContext(ctx, memberQuery, conversation, user).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
