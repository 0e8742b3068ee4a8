package reddit

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lueurxax/edit-relay/internal/core/domain"
	apperrors "github.com/lueurxax/edit-relay/internal/core/errors"
)

const (
	kindComment = "t1"
	kindLink    = "t3"

	deletedAuthor = "[deleted]"
)

// UserComments returns the newest comments of user, newest first.
func (c *Client) UserComments(ctx context.Context, user string, limit int) ([]domain.InboundItem, error) {
	query := url.Values{}
	query.Set("sort", "new")
	query.Set("limit", strconv.Itoa(clampLimit(limit)))

	body, err := c.get(ctx, endpointUserComments, "/user/"+url.PathEscape(user)+"/comments", query)
	if err != nil {
		return nil, err
	}

	children := gjson.GetBytes(body, "data.children")
	if !children.IsArray() {
		return nil, fmt.Errorf("reddit %s: %w: no listing", endpointUserComments, apperrors.ErrUnexpectedType)
	}

	items := make([]domain.InboundItem, 0, len(children.Array()))

	children.ForEach(func(_, child gjson.Result) bool {
		if child.Get("kind").String() != kindComment {
			return true
		}

		items = append(items, commentFromJSON(child.Get("data")))

		return true
	})

	return items, nil
}

func commentFromJSON(d gjson.Result) domain.InboundItem {
	parentID := d.Get("parent_id").String()

	return domain.InboundItem{
		ID:        d.Get("name").String(),
		Body:      d.Get("body").String(),
		CreatedAt: unixFloat(d.Get("created_utc").Float()),
		Channel:   d.Get("subreddit").String(),
		IsRoot:    strings.HasPrefix(parentID, kindLink+"_"),
		ParentID:  parentID,
		NSFW:      d.Get("over_18").Bool(),
		Permalink: absolutePermalink(d.Get("permalink").String()),
	}
}

// ResolveParent fetches the comment or post item replied to.
func (c *Client) ResolveParent(ctx context.Context, item domain.InboundItem) (domain.ParentRef, error) {
	if item.ParentID == "" {
		return nil, fmt.Errorf("reddit %s: %w: item %s has no parent", endpointInfo, apperrors.ErrInvalidInput, item.ID)
	}

	query := url.Values{}
	query.Set("id", item.ParentID)

	body, err := c.get(ctx, endpointInfo, "/api/info", query)
	if err != nil {
		return nil, err
	}

	thing := gjson.GetBytes(body, "data.children.0")
	if !thing.Exists() {
		return nil, fmt.Errorf("reddit %s: %w: %s", endpointInfo, apperrors.ErrNotFound, item.ParentID)
	}

	d := thing.Get("data")

	switch thing.Get("kind").String() {
	case kindLink:
		return domain.PostParent{
			Title:     d.Get("title").String(),
			Author:    authorName(d.Get("author").String()),
			NSFW:      d.Get("over_18").Bool(),
			Permalink: absolutePermalink(d.Get("permalink").String()),
		}, nil
	case kindComment:
		return domain.CommentParent{
			Body:           d.Get("body").String(),
			Author:         authorName(d.Get("author").String()),
			SubmissionNSFW: item.NSFW || d.Get("over_18").Bool(),
			Permalink:      absolutePermalink(d.Get("permalink").String()),
		}, nil
	default:
		return nil, fmt.Errorf("reddit %s: %w: kind %q", endpointInfo, apperrors.ErrUnexpectedType, thing.Get("kind").String())
	}
}

// Submit creates a link post on the destination subreddit.
func (c *Client) Submit(ctx context.Context, sub domain.Submission) (domain.SubmissionRef, error) {
	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("sr", c.cfg.Destination)
	form.Set("kind", "link")
	form.Set("title", sub.Title)
	form.Set("url", sub.URL)
	form.Set("resubmit", "true")
	form.Set("sendreplies", "true")

	if sub.FlairText != "" {
		form.Set("flair_text", sub.FlairText)
	}

	body, err := c.post(ctx, endpointSubmit, "/api/submit", form)
	if err != nil {
		return domain.SubmissionRef{}, err
	}

	ref := domain.SubmissionRef{
		ID:        gjson.GetBytes(body, "json.data.name").String(),
		Permalink: gjson.GetBytes(body, "json.data.url").String(),
	}

	if ref.IsZero() {
		// accepted without an id: the post may or may not exist
		return domain.SubmissionRef{}, fmt.Errorf("reddit %s: %w: %w", endpointSubmit, apperrors.ErrTransport, apperrors.ErrEmptyResponse)
	}

	return ref, nil
}

// Reply posts a comment under ref.
func (c *Client) Reply(ctx context.Context, ref domain.SubmissionRef, text string) error {
	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("thing_id", ref.ID)
	form.Set("text", text)

	_, err := c.post(ctx, endpointComment, "/api/comment", form)

	return err
}

// MarkNSFW flags ref as NSFW. The account must moderate the destination.
func (c *Client) MarkNSFW(ctx context.Context, ref domain.SubmissionRef) error {
	form := url.Values{}
	form.Set("id", ref.ID)

	_, err := c.post(ctx, endpointMarkNSFW, "/api/marknsfw", form)

	return err
}

// RecentPosts returns up to limit of the newest destination posts, following
// listing pages as needed.
func (c *Client) RecentPosts(ctx context.Context, limit int) ([]domain.RecentPost, error) {
	if limit <= 0 {
		limit = maxListingPage
	}

	posts := make([]domain.RecentPost, 0, limit)
	after := ""

	for len(posts) < limit {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(clampLimit(limit-len(posts))))

		if after != "" {
			query.Set("after", after)
		}

		body, err := c.get(ctx, endpointNew, "/r/"+url.PathEscape(c.cfg.Destination)+"/new", query)
		if err != nil {
			return nil, err
		}

		page := gjson.GetBytes(body, "data.children")
		if !page.IsArray() || len(page.Array()) == 0 {
			break
		}

		page.ForEach(func(_, child gjson.Result) bool {
			d := child.Get("data")
			posts = append(posts, domain.RecentPost{
				Title: d.Get("title").String(),
				URL:   d.Get("url").String(),
				Ref: domain.SubmissionRef{
					ID:        d.Get("name").String(),
					Permalink: absolutePermalink(d.Get("permalink").String()),
				},
			})

			return len(posts) < limit
		})

		after = gjson.GetBytes(body, "data.after").String()
		if after == "" {
			break
		}
	}

	return posts, nil
}

func clampLimit(n int) int {
	if n <= 0 || n > maxListingPage {
		return maxListingPage
	}

	return n
}

func unixFloat(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

func absolutePermalink(p string) string {
	if p == "" || strings.HasPrefix(p, "http") {
		return p
	}

	return webBaseURL + p
}

func authorName(a string) string {
	if a == deletedAuthor {
		return ""
	}

	return a
}
