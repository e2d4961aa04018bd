// Package feed builds the post listing shown to a user.
package feed

import (
	"context"
	"sort"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/forum"
)

// Query selects a feed. An empty SubforumName means every subforum and a
// zero RequesterID means an anonymous reader.
type Query struct {
	SubforumName string
	RequesterID  forum.UserID
}

type Assembler struct {
	db database.Database
}

func New(db database.Database) *Assembler {
	return &Assembler{db: db}
}

// List returns the posts matching q, newest first, each carrying the vote
// the requester holds on it. A subforum name that does not exist is
// ErrNotFound rather than an empty feed.
func (a *Assembler) List(ctx context.Context, q Query) ([]forum.PostView, error) {
	if q.SubforumName != "" {
		if _, err := a.db.FindSubforumByName(ctx, q.SubforumName); err != nil {
			return nil, err
		}
	}
	pl, err := a.db.ListPosts(ctx, forum.PostFilter{
		SubforumName: q.SubforumName,
		RequesterID:  q.RequesterID,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(pl, func(i, j int) bool {
		return pl[i].Less(pl[j])
	})
	return pl, nil
}

func (a *Assembler) Get(ctx context.Context, id forum.PostID, requesterID forum.UserID) (*forum.PostView, error) {
	return a.db.GetPost(ctx, id, requesterID)
}

// Subscribed returns the feed of every subforum userID subscribes to.
func (a *Assembler) Subscribed(ctx context.Context, userID forum.UserID) ([]forum.PostView, error) {
	if userID == forum.NoUser {
		return nil, forum.ErrUnauthenticated
	}
	sl, err := a.db.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	in := make(map[forum.SubforumID]bool, len(sl))
	for _, s := range sl {
		in[s.ID] = true
	}
	pl, err := a.List(ctx, Query{RequesterID: userID})
	if err != nil {
		return nil, err
	}
	result := pl[:0]
	for _, p := range pl {
		if in[p.SubforumID] {
			result = append(result, p)
		}
	}
	return result, nil
}
