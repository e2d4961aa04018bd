// Package ledger records votes and checks that each post's aggregate agrees
// with the vote rows behind it.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/forum"
)

type Ledger struct {
	db database.Database
}

func New(db database.Database) *Ledger {
	return &Ledger{db: db}
}

// Cast sets the vote of userID on postID to value and returns the post as
// the voter now sees it. Casting the current state again changes nothing.
func (l *Ledger) Cast(ctx context.Context, userID forum.UserID, postID forum.PostID, value forum.Vote) (*forum.PostView, error) {
	if userID == forum.NoUser {
		return nil, forum.ErrUnauthenticated
	}
	if err := forum.CheckVote(value); err != nil {
		return nil, err
	}
	if err := l.db.CastVote(ctx, userID, postID, value); err != nil {
		return nil, err
	}
	return l.db.GetPost(ctx, postID, userID)
}

// Tally is the number of up votes minus the number of down votes.
func Tally(vl []forum.VoteRecord) int {
	sum := 0
	for _, v := range vl {
		sum += int(v.Value)
	}
	return sum
}

// auditAttempts bounds the re-reads of a post whose aggregate disagrees
// with its votes. The post and its votes are two reads, and a vote cast
// between them shows up as a mismatch that is gone on the next read.
const auditAttempts = 2

// Audit recomputes the aggregate of postID from its vote rows and returns
// ErrLedgerMismatch when the stored aggregate differs.
func (l *Ledger) Audit(ctx context.Context, postID forum.PostID) error {
	var err error
	for i := 0; i < auditAttempts; i++ {
		if err = l.audit(ctx, postID); !errors.Is(err, forum.ErrLedgerMismatch) {
			return err
		}
	}
	return err
}

func (l *Ledger) audit(ctx context.Context, postID forum.PostID) error {
	p, err := l.db.GetPost(ctx, postID, forum.NoUser)
	if err != nil {
		return err
	}
	vl, err := l.db.ListVotes(ctx, postID)
	if err != nil {
		return err
	}
	if sum := Tally(vl); sum != p.Upvotes {
		return fmt.Errorf("%w: post %d stores %d, votes sum to %d", forum.ErrLedgerMismatch, postID, p.Upvotes, sum)
	}
	return nil
}

// AuditAll runs Audit over every post and stops at the first mismatch.
func (l *Ledger) AuditAll(ctx context.Context) error {
	pl, err := l.db.ListPosts(ctx, forum.PostFilter{})
	if err != nil {
		return err
	}
	for _, p := range pl {
		if err := l.Audit(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}
