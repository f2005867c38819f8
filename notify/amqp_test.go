package notify

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAMQPNotifier_RequiresURL(t *testing.T) {
	_, err := NewAMQPNotifier(AMQPConfig{})
	require.Error(t, err)
}

// TestAMQPNotifier_Publish needs a broker at AMQP_TEST_URL.
func TestAMQPNotifier_Publish(t *testing.T) {
	url := os.Getenv("AMQP_TEST_URL")
	if url == "" {
		t.Skip("AMQP_TEST_URL not set")
	}

	exchange := "accounts.test." + time.Now().Format("150405.000")
	n, err := NewAMQPNotifier(AMQPConfig{URL: url, Exchange: exchange, RoutingKeyPrefix: "oauth."})
	if err != nil {
		t.Skipf("Skipping test: could not connect to AMQP broker: %v", err)
	}
	defer func() { _ = n.Close() }()

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	ch, err := conn.Channel()
	require.NoError(t, err)

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "oauth.#", exchange, false, nil))
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Notify(ctx, Event{Kind: KindTokenIssued, ClientID: "c1", OccurredAt: time.Now()}))

	select {
	case d := <-msgs:
		assert.Equal(t, "oauth.token_issued", d.RoutingKey)
		var got Event
		require.NoError(t, json.Unmarshal(d.Body, &got))
		assert.Equal(t, "c1", got.ClientID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}

	_ = ch.ExchangeDelete(exchange, false, false)
}
