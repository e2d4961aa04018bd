// Package thread reads the comments under a post.
package thread

import (
	"context"
	"sort"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/forum"
)

type Builder struct {
	db database.Database
}

func New(db database.Database) *Builder {
	return &Builder{db: db}
}

// Comments returns the flat comment list of postID, oldest first. Replies
// keep their ParentID so callers can nest them.
func (b *Builder) Comments(ctx context.Context, postID forum.PostID) ([]forum.CommentView, error) {
	cl, err := b.db.ListComments(ctx, postID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cl, func(i, j int) bool {
		return cl[i].Less(cl[j])
	})
	return cl, nil
}

// Thread is a post together with its comments.
type Thread struct {
	Post     forum.PostView      `json:"post"`
	Comments []forum.CommentView `json:"comments"`
}

func (b *Builder) Thread(ctx context.Context, postID forum.PostID, requesterID forum.UserID) (*Thread, error) {
	p, err := b.db.GetPost(ctx, postID, requesterID)
	if err != nil {
		return nil, err
	}
	cl, err := b.Comments(ctx, postID)
	if err != nil {
		return nil, err
	}
	return &Thread{Post: *p, Comments: cl}, nil
}

type Node struct {
	Comment forum.CommentView `json:"comment"`
	Replies []*Node           `json:"replies"`
}

// Nest arranges an ordered comment list into trees. Sibling order follows
// the input. A comment whose parent is not in the list becomes a root.
func Nest(cl []forum.CommentView) []*Node {
	nodes := make(map[forum.CommentID]*Node, len(cl))
	for _, c := range cl {
		nodes[c.ID] = &Node{Comment: c, Replies: []*Node{}}
	}
	roots := []*Node{}
	for _, c := range cl {
		n := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok && parent != n {
				parent.Replies = append(parent.Replies, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	return roots
}

// Walk visits the trees depth first, passing the depth of each node.
func Walk(roots []*Node, fn func(n *Node, depth int)) {
	var visit func(nl []*Node, depth int)
	visit = func(nl []*Node, depth int) {
		for _, n := range nl {
			fn(n, depth)
			visit(n.Replies, depth+1)
		}
	}
	visit(roots, 0)
}
