package domain

import "time"

// InboundItem is one comment observed on the watched account's activity stream.
type InboundItem struct {
	ID        string // fullname, e.g. t1_abc123
	Body      string
	CreatedAt time.Time
	Channel   string // subreddit the comment was made in
	IsRoot    bool   // true when the parent is the submission itself
	ParentID  string // fullname of the parent thing, resolved lazily
	NSFW      bool   // inherited from the root submission
	Permalink string
}

// LinkCandidate is an anchor-text/URL pair found in an item's body.
type LinkCandidate struct {
	AnchorText string
	URL        string
}

// SubmissionRef is the opaque handle of a post created on the destination.
type SubmissionRef struct {
	ID        string // fullname, e.g. t3_xyz
	Permalink string
}

// IsZero reports whether the ref points at nothing.
func (r SubmissionRef) IsZero() bool {
	return r.ID == ""
}

// Submission is the request to create a link post on the destination.
type Submission struct {
	Title     string
	URL       string
	FlairText string
}

// RecentPost is a post already present on the destination channel.
type RecentPost struct {
	Title string
	URL   string
	Ref   SubmissionRef
}

// ParentRef is the resolved parent of an inbound item: either a CommentParent
// or a PostParent. The set of variants is closed.
type ParentRef interface {
	isParentRef()
	ParentPermalink() string
}

// CommentParent is a comment the watched account replied to.
type CommentParent struct {
	Body           string
	Author         string // empty when deleted or unknown
	SubmissionNSFW bool
	Permalink      string
}

// PostParent is a submission the watched account commented on directly.
type PostParent struct {
	Title     string
	Author    string // empty when deleted or unknown
	NSFW      bool
	Permalink string
}

func (CommentParent) isParentRef() {}
func (PostParent) isParentRef()    {}

// ParentPermalink returns the link back to the parent comment.
func (p CommentParent) ParentPermalink() string { return p.Permalink }

// ParentPermalink returns the link back to the parent post.
func (p PostParent) ParentPermalink() string { return p.Permalink }
