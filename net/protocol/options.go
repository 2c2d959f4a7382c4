package protocol

import (
	"time"
)

// Options 服务配置
type Options struct {
	net      NetWorkAndAddressAndOption
	name     string
	NumLoops int

	tick      time.Duration
	wheelSize int64
	IdleTime  time.Duration

	keepAlive       bool
	keepAlivePeriod time.Duration
}

// Option ...
type Option func(*Options)

func (this *Options) GetNet() NetWorkAndAddressAndOption {
	return this.net
}

func (this *Options) GetName() string {
	return this.name
}

func (this *Options) GetTick() time.Duration {
	return this.tick
}

func (this *Options) GetWheelSize() int64 {
	return this.wheelSize
}

func (this *Options) GetKeepAlive() bool {
	return this.keepAlive
}

func (this *Options) GetKeepAlivePeriod() time.Duration {
	return this.keepAlivePeriod
}

func NewOptions(opt ...Option) *Options {
	// keep-alive is on unless explicitly opted out
	opts := Options{keepAlive: true}

	for _, o := range opt {
		o(&opts)
	}

	if len(opts.net.Network) == 0 {
		opts.net.Network = "tcp"
	}
	if len(opts.net.Address) == 0 {
		opts.net.Address = ":58800"
	}
	if len(opts.name) == 0 {
		opts.name = "munet"
	}
	if opts.tick == 0 {
		opts.tick = 1 * time.Millisecond
	}
	if opts.wheelSize == 0 {
		opts.wheelSize = 1000
	}

	return &opts
}

// ReusePort 设置 SO_REUSEPORT
func ReusePort(reusePort bool) Option {
	return func(o *Options) {
		o.net.ReusePort = reusePort
	}
}

func Network(n string) Option {
	return func(o *Options) {
		o.net.Network = n
	}
}

// Address server 监听地址
func Address(a string) Option {
	return func(o *Options) {
		o.net.Address = a
	}
}

// Name names the server; connection names are derived from it.
func Name(n string) Option {
	return func(o *Options) {
		o.name = n
	}
}

// NumLoops work eventloop 的数量
func NumLoops(n int) Option {
	return func(o *Options) {
		o.NumLoops = n
	}
}

// IdleTime 最大空闲时间
func IdleTime(t time.Duration) Option {
	return func(o *Options) {
		o.IdleTime = t
	}
}

// KeepAlive 设置 SO_KEEPALIVE
func KeepAlive(on bool) Option {
	return func(o *Options) {
		o.keepAlive = on
	}
}

// KeepAlivePeriod sets the keep-alive probe interval (second granularity);
// zero keeps the kernel default.
func KeepAlivePeriod(d time.Duration) Option {
	return func(o *Options) {
		o.keepAlivePeriod = d
	}
}

// Tick is the timing wheel resolution used for idle reaping.
func Tick(t time.Duration) Option {
	return func(o *Options) {
		o.tick = t
	}
}

// WheelSize is the timing wheel slot count.
func WheelSize(s int64) Option {
	return func(o *Options) {
		o.wheelSize = s
	}
}
