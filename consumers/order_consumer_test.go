package consumers

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExpirer struct {
	mock.Mock
}

func newMockExpirer(t *testing.T) *mockExpirer {
	m := &mockExpirer{}
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockExpirer) ExpireOrder(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func newTestConsumer(expirer OrderExpirer) *OrderConsumer {
	logger, _ := test.NewNullLogger()
	return NewOrderConsumer(nil, "orders", "dlq", expirer, logger)
}

func TestHandlePaymentCheckExpires(t *testing.T) {
	expirer := newMockExpirer(t)
	expirer.On("ExpireOrder", mock.Anything, "1401001").Return(true, nil).Once()
	c := newTestConsumer(expirer)

	err := c.Handle(context.Background(), []byte(`{"order_id":"1401001","type":"payment_check","status":"PENDING_PAYMENT"}`))
	require.NoError(t, err)

	require.NoError(t, c.Handle(context.Background(), []byte(`{"order_id":"1401001","type":"paid"}`)))
	expirer.AssertNumberOfCalls(t, "ExpireOrder", 1)
}

func TestHandlePaymentCheckOnSettledOrder(t *testing.T) {
	expirer := newMockExpirer(t)
	expirer.On("ExpireOrder", mock.Anything, "1401002").Return(false, nil).Once()
	c := newTestConsumer(expirer)

	assert.NoError(t, c.Handle(context.Background(), []byte(`{"order_id":"1401002","type":"payment_check"}`)))
}

func TestHandleMalformed(t *testing.T) {
	expirer := newMockExpirer(t)
	c := newTestConsumer(expirer)

	for _, body := range []string{"1|created", `{"type":"created"}`, `{"order_id":"1401001"}`} {
		err := c.Handle(context.Background(), []byte(body))
		assert.ErrorIs(t, err, ErrMalformedEvent, body)
	}
	expirer.AssertNotCalled(t, "ExpireOrder", mock.Anything, mock.Anything)
}

func TestHandlePropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	expirer := newMockExpirer(t)
	expirer.On("ExpireOrder", mock.Anything, "1401001").Return(false, boom).Once()
	c := newTestConsumer(expirer)

	err := c.Handle(context.Background(), []byte(`{"order_id":"1401001","type":"payment_check"}`))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMalformedEvent)
}
