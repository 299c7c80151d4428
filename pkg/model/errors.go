package model

import "errors"

// 系统级错误分类
var (
	// ErrValidation 条件描述不合法，注册时拒绝，不会入库
	ErrValidation = errors.New("条件校验失败")
	// ErrNotFound 指纹或订阅不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrTransientFetch 行情拉取瞬时失败，下一个tick重试
	ErrTransientFetch = errors.New("行情拉取失败")
	// ErrDispatch 动作处理器执行失败
	ErrDispatch = errors.New("触发分发失败")
)
