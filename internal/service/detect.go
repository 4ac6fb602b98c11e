package service

import "feedwatch/internal/model"

// SelectNew 计算需要投递的新条目, 返回结果按从旧到新排列
//
// watermark 为空时是基线检查, 不投递任何条目. 否则按源站顺序 (通常新的在前)
// 收集 watermark 之前的所有条目; 找不到 watermark 时视全部为新. 结果最多 limit 条,
// 保留最新的 limit 条, 其余在本轮丢弃. dropped 为被丢弃的条数.
func SelectNew(items []model.FeedItem, watermark string, limit int) (selected []model.FeedItem, dropped int, baseline bool) {
	if watermark == "" {
		return nil, 0, true
	}

	fresh := items
	for i, item := range items {
		if item.ID == watermark {
			fresh = items[:i]
			break
		}
	}

	if limit > 0 && len(fresh) > limit {
		dropped = len(fresh) - limit
		fresh = fresh[:limit]
	}

	selected = make([]model.FeedItem, len(fresh))
	for i, item := range fresh {
		selected[len(fresh)-1-i] = item
	}
	return selected, dropped, false
}
