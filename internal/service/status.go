package service

import "feedwatch/internal/model"

// Statistics 获取引擎统计
func (e *Engine) Statistics() model.Statistics {
	return model.Statistics{
		TotalFeeds:        e.registry.Len(),
		TotalDestinations: e.registry.Destinations(),
		ActiveSchedules:   e.scheduler.Active(),
	}
}
