// Package server 提供 HTTP 与 websocket 服务的统一生命周期封装。
package server

import "context"

// Server 通用服务器生命周期契约，由 app 统一启动与关闭。
type Server interface {
	// Start 阻塞运行，直到 ctx 取消或出现不可恢复的错误。
	Start(ctx context.Context) error
	// Stop 优雅停止并释放资源。
	Stop(ctx context.Context) error
}
