package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/villadispatch/core/notify"
	"github.com/kilianp07/villadispatch/internal/testutil"
)

// TestIntegration verifies offer delivery through a real Mosquitto broker.
func TestIntegration(t *testing.T) {
	testutil.RequireDocker(t)
	ctx := context.Background()
	broker, cleanup, err := testutil.StartMosquitto(ctx)
	if err != nil {
		t.Fatalf("start mosquitto: %v", err)
	}
	defer cleanup()

	received := make(chan notify.Message, 2)
	sub := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("staff-app"))
	if token := sub.Connect(); token.Wait() && token.Error() != nil {
		t.Fatalf("connect subscriber: %v", token.Error())
	}
	defer sub.Disconnect(100)
	token := sub.Subscribe("villa/staff/+/offers", 1, func(_ paho.Client, m paho.Message) {
		var msg notify.Message
		if err := json.Unmarshal(m.Payload(), &msg); err == nil {
			received <- msg
		}
	})
	if token.Wait() && token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}

	n, err := NewNotifier(Config{Broker: broker, ClientID: "dispatch", QoS: 1})
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	defer n.Disconnect()

	if err := n.NotifyStaffOfOffer(ctx, testOffer()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	got := map[string]bool{}
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-received:
			got[msg.StaffID] = true
		case <-timeout:
			t.Fatalf("received only %v", got)
		}
	}
	if !got["ana"] || !got["gus"] {
		t.Fatalf("unexpected recipients %v", got)
	}
}
