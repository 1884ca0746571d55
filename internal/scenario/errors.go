package scenario

import "errors"

var (
	// ErrMissingStartNode 图中缺少start节点
	ErrMissingStartNode = errors.New("scenario graph has no start node")
	// ErrMultipleStartNodes 图中存在多个start节点
	ErrMultipleStartNodes = errors.New("scenario graph has more than one start node")
	// ErrMultipleEndNodes 图中存在多个end节点
	ErrMultipleEndNodes = errors.New("scenario graph has more than one end node")
	// ErrAlreadyStarted 执行器实例不可复用，重复Start被拒绝
	ErrAlreadyStarted = errors.New("executor already started; create a new executor per run")
	// ErrScenarioNotFound 场景不存在
	ErrScenarioNotFound = errors.New("scenario not found")
	// ErrScenarioDisabled 场景未启用
	ErrScenarioDisabled = errors.New("scenario is disabled")
	// ErrScenarioActive 场景已在执行中
	ErrScenarioActive = errors.New("scenario is already running")
	// ErrManagerDestroyed 管理器已销毁
	ErrManagerDestroyed = errors.New("scenario manager is destroyed")
)
