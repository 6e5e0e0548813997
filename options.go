package synctree

import "go.uber.org/zap"

// Options configures a Tree.
type Options struct {
	AutoStart bool
	Load      bool
	OnStop    func()
	Logger    *zap.Logger
	Parser    Parser
}

// Option is a functional option for configuring New.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger: zap.NewNop(),
		Parser: ParseCID,
	}
}

// WithAutoStart starts the engine from New.
func WithAutoStart() Option {
	return func(o *Options) { o.AutoStart = true }
}

// WithLoad loads the index during Start.
func WithLoad() Option {
	return func(o *Options) { o.Load = true }
}

// WithOnStop sets a teardown hook invoked at the beginning of Stop.
func WithOnStop(fn func()) Option {
	return func(o *Options) { o.OnStop = fn }
}

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Options) {
		if log != nil {
			o.Logger = log
		}
	}
}

// WithParser sets the identifier parser capability.
func WithParser(p Parser) Option {
	return func(o *Options) {
		if p != nil {
			o.Parser = p
		}
	}
}
