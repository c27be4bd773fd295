package storage

import "errors"

var (
	// ErrStoreClosed 存储已关闭
	ErrStoreClosed = errors.New("peer store closed")

	// ErrNoPath 未配置存储路径
	ErrNoPath = errors.New("peer store path is empty")
)
