package channel

import (
	"context"
	"errors"
	"sync/atomic"
)

var ErrStopNotSupported = errors.New("channel connection stop not supported")

// InboundHandler processes one inbound message. It runs on its own goroutine and
// receives the connection context, which is cancelled when the connection stops.
type InboundHandler func(ctx context.Context, msg InboundMessage) error

// Receiver opens a long-lived inbound connection.
type Receiver interface {
	Type() ChannelType
	Connect(ctx context.Context, handler InboundHandler) (Connection, error)
}

// Connection is a running receiver.
type Connection interface {
	ChannelType() ChannelType
	Stop(ctx context.Context) error
	Running() bool
}

type BaseConnection struct {
	channelType ChannelType
	stop        func(ctx context.Context) error
	running     atomic.Bool
}

func NewConnection(channelType ChannelType, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		channelType: channelType,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	err := c.stop(ctx)
	if err == nil {
		c.running.Store(false)
	}
	return err
}

func (c *BaseConnection) Running() bool {
	return c.running.Load()
}
