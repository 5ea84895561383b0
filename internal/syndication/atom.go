// Package syndication はフォーラムのAtomフィードを生成する。
package syndication

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/repository"
)

// DefaultLimit はフィードに含めるスレッド数の既定値。
const DefaultLimit = 20

const atomNamespace = "http://www.w3.org/2005/Atom"

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Xmlns   string      `xml:"xmlns,attr"`
	ID      string      `xml:"id"`
	Title   string      `xml:"title"`
	Updated string      `xml:"updated"`
	Links   []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr,omitempty"`
	Type string `xml:"type,attr,omitempty"`
	Href string `xml:"href,attr"`
}

type atomEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Published string      `xml:"published"`
	Updated   string      `xml:"updated"`
	Links     []atomLink  `xml:"link"`
	Author    *atomPerson `xml:"author,omitempty"`
	Summary   *atomText   `xml:"summary,omitempty"`
}

type atomPerson struct {
	Name string `xml:"name"`
}

type atomText struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

// FeedBuilder は公開フォーラムの最新スレッドからAtomフィードを組み立てる。
type FeedBuilder struct {
	store   repository.Store
	baseURL string
	limit   int
}

// NewFeedBuilder はFeedBuilderの新しいインスタンスを生成する。
func NewFeedBuilder(store repository.Store, baseURL string, limit int) *FeedBuilder {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &FeedBuilder{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
	}
}

// ForumFeed はフォーラムのAtomフィードを返す。
// フィードは認証なしで配信するため、非公開フォーラムはACCESS_DENIEDとする。
func (b *FeedBuilder) ForumFeed(ctx context.Context, forumID string) ([]byte, error) {
	f, err := b.store.Forums().FindByID(ctx, forumID)
	if err != nil {
		return nil, fmt.Errorf("フォーラムの取得に失敗しました: %w", err)
	}
	if f == nil || f.IsDeleted() {
		return nil, model.NewForumNotFoundError(forumID)
	}
	if f.Private {
		return nil, model.NewAccessDeniedError()
	}

	threads, err := b.store.Threads().ListLatestByForum(ctx, f.ID, b.limit)
	if err != nil {
		return nil, fmt.Errorf("最新スレッドの取得に失敗しました: %w", err)
	}

	updated := f.LastModified
	authors := make(map[string]string)
	entries := make([]atomEntry, 0, len(threads))
	for _, t := range threads {
		entry, err := b.entry(ctx, t, authors)
		if err != nil {
			return nil, err
		}
		if t.LastPostModifiedAt.After(updated) {
			updated = t.LastPostModifiedAt
		}
		entries = append(entries, entry)
	}

	feed := atomFeed{
		Xmlns:   atomNamespace,
		ID:      b.baseURL + "/api/forums/" + f.ID,
		Title:   f.Title,
		Updated: formatTime(updated),
		Links: []atomLink{
			{Rel: "self", Type: "application/atom+xml", Href: b.baseURL + "/api/forums/" + f.ID + "/feed.atom"},
			{Rel: "alternate", Href: b.baseURL + "/api/forums/by-path/" + f.SlugPath},
		},
		Entries: entries,
	}
	out, err := xml.MarshalIndent(feed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("フィードのエンコードに失敗しました: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func (b *FeedBuilder) entry(ctx context.Context, t model.ThreadListEntry, authors map[string]string) (atomEntry, error) {
	link := fmt.Sprintf("%s/api/threads/%s/%s", b.baseURL, t.ID, t.Slug)
	entry := atomEntry{
		ID:        link,
		Title:     t.Title,
		Published: formatTime(t.CreatedAt),
		Updated:   formatTime(t.LastPostModifiedAt),
		Links:     []atomLink{{Rel: "alternate", Href: link}},
	}

	first, err := b.store.Posts().FindByID(ctx, t.FirstPostID)
	if err != nil {
		return atomEntry{}, fmt.Errorf("最初の投稿の取得に失敗しました: %w", err)
	}
	if first != nil {
		summary := first.SummaryHTML
		if summary == "" {
			summary = first.ContentHTML
		}
		entry.Summary = &atomText{Type: "html", Body: summary}
	}

	name, ok := authors[t.FirstPostAuthorID]
	if !ok {
		u, err := b.store.Users().FindByID(ctx, t.FirstPostAuthorID)
		if err != nil {
			return atomEntry{}, fmt.Errorf("投稿者の取得に失敗しました: %w", err)
		}
		if u != nil {
			name = u.Username
		}
		authors[t.FirstPostAuthorID] = name
	}
	if name != "" {
		entry.Author = &atomPerson{Name: name}
	}
	return entry, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
