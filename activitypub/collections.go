package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/solipub/solipub/domain"
)

// PageSize is the fixed number of items per collection page.
const PageSize = 10

// FirstPage is the first cursor value.
const FirstPage = 1

// Direction selects which end of the stored triple the owner occupies:
// followers ("X follows owner") or following ("owner follows X").
type Direction int

const (
	DirFollowers Direction = iota
	DirFollowing
)

// CollectionItem is one member of a followers/following page. Inbox is
// populated only for the followers direction.
type CollectionItem struct {
	ID    string
	Inbox string
}

// CollectionPage is the result of one ListPage call. Nil cursors mean
// "no such page"; on an unpaged listing both stay nil.
type CollectionPage struct {
	Items      []CollectionItem
	TotalItems int
	NextCursor *int
	PrevCursor *int
}

// listSubjects reads the full current follower/following set from the
// owner's store. The pagination window is computed over this fetch-time
// ordering; pages can shift if the set changes between requests.
func (e *Engine) listSubjects(ctx context.Context, owner *Owner, dir Direction) ([]string, error) {
	docURL := owner.Actor.Storage + "followers"
	if dir == DirFollowing {
		docURL = owner.Actor.Storage + "following"
	}

	triples, err := e.store.ReadGraph(ctx, owner, docURL)
	if err != nil {
		return nil, err
	}

	var subjects []string
	for _, t := range triples {
		if iriValue(t.Pred) != FollowsPredicate {
			continue
		}
		switch dir {
		case DirFollowers:
			if iriValue(t.Obj) == owner.Actor.ID {
				subjects = append(subjects, iriValue(t.Subj))
			}
		case DirFollowing:
			if iriValue(t.Subj) == owner.Actor.ID {
				subjects = append(subjects, iriValue(t.Obj))
			}
		}
	}

	return subjects, nil
}

// ListPage returns one page of the owner's followers or following
// collection. A nil cursor returns the whole set. Cursors are 1-based;
// NextCursor is nil once k*PageSize reaches the total.
func (e *Engine) ListPage(ctx context.Context, owner *Owner, dir Direction, cursor *int) (*CollectionPage, error) {
	subjects, err := e.listSubjects(ctx, owner, dir)
	if err != nil {
		return nil, err
	}

	page := &CollectionPage{TotalItems: len(subjects)}

	window := subjects
	if cursor != nil {
		k := *cursor
		if k < FirstPage {
			return nil, fmt.Errorf("%w: invalid page cursor %d", domain.ErrActivityInvalid, k)
		}
		window = paginate(subjects, k, PageSize)

		if k > FirstPage {
			prev := k - 1
			page.PrevCursor = &prev
		}
		if k*PageSize < len(subjects) {
			next := k + 1
			page.NextCursor = &next
		}
	}

	if dir == DirFollowers {
		page.Items = e.resolveInboxes(ctx, window)
	} else {
		page.Items = make([]CollectionItem, 0, len(window))
		for _, s := range window {
			page.Items = append(page.Items, CollectionItem{ID: s})
		}
	}

	return page, nil
}

// resolveInboxes fetches each subject's actor document to surface its
// inbox. Individual failures drop the entry from the page instead of
// failing the whole response; the gather always awaits every fetch.
func (e *Engine) resolveInboxes(ctx context.Context, subjects []string) []CollectionItem {
	resolved := make([]*domain.RemoteActor, len(subjects))

	var wg sync.WaitGroup
	for i, subject := range subjects {
		wg.Add(1)
		go func(i int, subject string) {
			defer wg.Done()
			actor, err := e.FetchActor(ctx, subject)
			if err != nil {
				e.log.Warn("dropping unresolvable collection entry",
					zap.String("actor", subject), zap.Error(err))
				return
			}
			resolved[i] = actor
		}(i, subject)
	}
	wg.Wait()

	items := make([]CollectionItem, 0, len(subjects))
	for _, actor := range resolved {
		if actor == nil {
			continue
		}
		items = append(items, CollectionItem{ID: actor.ID, Inbox: actor.Inbox})
	}
	return items
}

func paginate(items []string, page, pageSize int) []string {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// HandleFollowers serves the followers collection.
func (e *Engine) HandleFollowers(ctx context.Context, req *Request, owner *Owner) (*Response, error) {
	return e.handleCollection(ctx, req, owner, DirFollowers, owner.Actor.Followers)
}

// HandleFollowing serves the following collection.
func (e *Engine) HandleFollowing(ctx context.Context, req *Request, owner *Owner) (*Response, error) {
	return e.handleCollection(ctx, req, owner, DirFollowing, owner.Actor.Following)
}

func (e *Engine) handleCollection(ctx context.Context, req *Request, owner *Owner, dir Direction, collectionURI string) (*Response, error) {
	var cursor *int
	if pageStr := req.URL.Query().Get("page"); pageStr != "" {
		k, err := strconv.Atoi(pageStr)
		if err != nil || k < FirstPage {
			return nil, fmt.Errorf("%w: invalid page parameter %q", domain.ErrActivityInvalid, pageStr)
		}
		cursor = &k
	}

	page, err := e.ListPage(ctx, owner, dir, cursor)
	if err != nil {
		return nil, err
	}

	items := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, item.ID)
	}

	var body map[string]any
	if cursor == nil {
		body = map[string]any{
			"@context":     domain.ActivityStreamsContext,
			"id":           collectionURI,
			"type":         "OrderedCollection",
			"totalItems":   page.TotalItems,
			"orderedItems": items,
		}
		if page.TotalItems > 0 {
			body["first"] = fmt.Sprintf("%s?page=%d", collectionURI, FirstPage)
		}
	} else {
		body = map[string]any{
			"@context":     domain.ActivityStreamsContext,
			"id":           fmt.Sprintf("%s?page=%d", collectionURI, *cursor),
			"type":         "OrderedCollectionPage",
			"partOf":       collectionURI,
			"totalItems":   page.TotalItems,
			"orderedItems": items,
		}
		if page.NextCursor != nil {
			body["next"] = fmt.Sprintf("%s?page=%d", collectionURI, *page.NextCursor)
		}
		if page.PrevCursor != nil {
			body["prev"] = fmt.Sprintf("%s?page=%d", collectionURI, *page.PrevCursor)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal collection: %w", err)
	}

	return &Response{
		Status: http.StatusOK,
		Header: map[string]string{"Content-Type": ContentTypeActivityJSON},
		Body:   payload,
	}, nil
}
