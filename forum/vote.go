package forum

import (
	"fmt"
	"strconv"
)

// Vote is the state of one user's vote on one post.
type Vote int

const (
	Down Vote = -1
	None Vote = 0
	Up   Vote = 1
)

type VoteRecord struct {
	UserID UserID `db:"user_id" json:"user_id"`
	PostID PostID `db:"post_id" json:"post_id"`
	Value  Vote   `db:"vote_type" json:"vote_type"`
}

func (v Vote) Valid() bool {
	return v == Down || v == None || v == Up
}

// Delta is the change to a post's aggregate when a vote moves from v to next.
// Votes are absolute, so casting the current state again yields 0.
func (v Vote) Delta(next Vote) int {
	return int(next) - int(v)
}

func (v Vote) String() string {
	switch v {
	case Up:
		return "up"
	case Down:
		return "down"
	case None:
		return "none"
	}
	return "Vote(" + strconv.Itoa(int(v)) + ")"
}

// ParseVote accepts the numeric form used by the API as well as the names
// returned by String.
func ParseVote(s string) (Vote, error) {
	switch s {
	case "1", "+1", "up":
		return Up, nil
	case "-1", "down":
		return Down, nil
	case "0", "none":
		return None, nil
	}
	return None, fmt.Errorf("%w: %q", ErrInvalidVoteValue, s)
}

// CheckVote returns ErrInvalidVoteValue for anything outside {-1, 0, 1}.
func CheckVote(v Vote) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidVoteValue, int(v))
	}
	return nil
}
