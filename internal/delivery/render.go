// Package delivery 负责把条目渲染成消息并投递到外部目标
package delivery

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"feedwatch/internal/model"
)

const maxSummaryRunes = 400

// Render 把条目渲染为消息, 摘要去除 HTML 并截断
func Render(feedTitle string, item model.FeedItem) model.Message {
	msg := model.Message{
		FeedTitle:   feedTitle,
		Title:       strings.TrimSpace(item.Title),
		Link:        item.Link,
		Summary:     truncate(PlainText(item.Summary), maxSummaryRunes),
		Author:      item.Author,
		PublishedAt: item.PublishedAt,
	}
	if msg.Title == "" {
		msg.Title = item.Link
	}
	if item.Media != nil {
		msg.MediaURL = item.Media.URL
	}
	return msg
}

// PlainText 提取 HTML 中的文本并合并空白
func PlainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.Join(strings.Fields(html), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}
