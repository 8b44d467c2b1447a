package service

import "log"

// logEventFailure 在业务动作已成功落库、但事件记录失败时输出日志。
// 游戏化是尽力而为，事件失败不会回传给业务动作的调用方。
func logEventFailure(eventType EventType, userID uint, err error) {
	log.Printf("[event] record %s for user %d: %v", eventType, userID, err)
}
