package service

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedwatch/internal/model"
)

// Parser 把原始文档解析为 model.Document, 支持 RSS/Atom/JSON Feed
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse 解析文档; gofeed.Parser 内部有状态, 每次解析新建一个
func (p *Parser) Parse(raw []byte) (*model.Document, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrParse, err)
	}

	doc := &model.Document{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
		Link:        parsed.Link,
		Items:       make([]model.FeedItem, 0, len(parsed.Items)),
	}
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		doc.Items = append(doc.Items, p.toItem(item))
	}
	return doc, nil
}

func (p *Parser) toItem(item *gofeed.Item) model.FeedItem {
	fi := model.FeedItem{
		Title:       strings.TrimSpace(item.Title),
		Link:        strings.TrimSpace(item.Link),
		Summary:     item.Description,
		PublishedAt: p.parseTime(item),
		Author:      author(item),
		Media:       media(item),
	}
	if fi.Summary == "" {
		fi.Summary = item.Content
	}
	fi.ID = itemID(item, fi)
	return fi
}

func (p *Parser) parseTime(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return &t
	}
	if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		return &t
	}
	return nil
}

// itemID 优先使用 GUID, 其次链接, 最后是标题加时间
func itemID(item *gofeed.Item, fi model.FeedItem) string {
	if id := strings.TrimSpace(item.GUID); id != "" {
		return id
	}
	if fi.Link != "" {
		return fi.Link
	}
	stamp := item.Published
	if fi.PublishedAt != nil {
		stamp = fi.PublishedAt.Format(time.RFC3339)
	}
	return fi.Title + "|" + stamp
}

func author(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return item.DublinCoreExt.Creator[0]
	}
	return ""
}

func media(item *gofeed.Item) *model.Media {
	if item.Image != nil && item.Image.URL != "" {
		return &model.Media{URL: item.Image.URL}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			return &model.Media{URL: enc.URL, Type: enc.Type}
		}
	}
	return nil
}
