package base

import "time"

// Options 传输实现共用的参数
type Options struct {
	// MaxChannels 出站通道上限
	MaxChannels int

	// DialTimeout 建立连接超时
	DialTimeout time.Duration

	// RequestTimeout 请求未携带截止时间时的默认超时
	RequestTimeout time.Duration
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		MaxChannels:    64,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Normalize 用默认值补全零值字段
func (o Options) Normalize() Options {
	def := DefaultOptions()
	if o.MaxChannels <= 0 {
		o.MaxChannels = def.MaxChannels
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = def.DialTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = def.RequestTimeout
	}
	return o
}
