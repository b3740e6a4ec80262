package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu     sync.Mutex
	sent   []published
	err    error
	closeN int
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closeN++
	return nil
}

type lowStockEvent struct {
	ProductID uint `json:"product_id"`
	OnHand    int  `json:"on_hand"`
}

func TestPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "stock.alerts", nil)

	require.NoError(t, p.Publish(context.Background(), "stock.low", lowStockEvent{ProductID: 3, OnHand: 2}))

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "stock.alerts", got.exchange)
	assert.Equal(t, "stock.low", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.NotEmpty(t, got.msg.MessageId)
	assert.False(t, got.msg.Timestamp.IsZero())

	var body lowStockEvent
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, lowStockEvent{ProductID: 3, OnHand: 2}, body)
}

func TestPublisher_UniqueMessageIDs(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "stock.alerts", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Publish(context.Background(), "stock.level_changed", lowStockEvent{ProductID: uint(i)})
		}()
	}
	wg.Wait()

	ids := make(map[string]struct{})
	for _, s := range ch.sent {
		ids[s.msg.MessageId] = struct{}{}
	}
	assert.Len(t, ids, 20)
}

func TestPublisher_Errors(t *testing.T) {
	t.Run("序列化失败", func(t *testing.T) {
		p := newPublisher(&fakeChannel{}, "x", nil)
		err := p.Publish(context.Background(), "k", make(chan int))
		assert.Error(t, err)
	})

	t.Run("发布失败", func(t *testing.T) {
		broken := errors.New("channel/connection is not open")
		p := newPublisher(&fakeChannel{err: broken}, "x", nil)
		err := p.Publish(context.Background(), "k", lowStockEvent{})
		assert.ErrorIs(t, err, broken)
	})

	t.Run("关闭后发布", func(t *testing.T) {
		ch := &fakeChannel{}
		p := newPublisher(ch, "x", nil)
		require.NoError(t, p.Close())
		require.NoError(t, p.Close())

		assert.Equal(t, 1, ch.closeN)
		assert.ErrorIs(t, p.Publish(context.Background(), "k", lowStockEvent{}), ErrClosed)
	})
}
