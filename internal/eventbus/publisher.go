// Package eventbus forwards alerts to the NATS event bus so external
// consumers (pagers, dashboards, the wider ops console) can react to them.
package eventbus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opsconsole/dbsupervisor/internal/alert"
)

type Publisher struct {
	conn *nats.Conn
}

func NewPublisher(natsURL string) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	log.Printf("Supervisor connected to NATS at %s", natsURL)

	return &Publisher{conn: conn}, nil
}

// PublishAlert sends the alert as JSON on "alerts.<level>".
func (p *Publisher) PublishAlert(a alert.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("alerts.%s", a.Level)
	if err := p.conn.Publish(subject, data); err != nil {
		return err
	}

	return nil
}

func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		log.Printf("Supervisor disconnected from NATS")
	}
}
