// Package notify forwards ingestion run summaries to a NATS subject so
// other services can react to new rounds.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ernie/roundtally/internal/collector"
	"github.com/ernie/roundtally/internal/domain"
)

// SubjectPrefix is followed by the server id
const SubjectPrefix = "roundtally.ingest."

// Subject returns the subject a server's run summaries are published on
func Subject(serverID int64) string {
	return fmt.Sprintf("%s%d", SubjectPrefix, serverID)
}

// Publisher publishes run events to NATS
type Publisher struct {
	conn   *nats.Conn
	logger *zap.Logger
	now    func() time.Time
}

// Connect dials the NATS server. The connection reconnects on its own;
// publishes while disconnected are buffered by the client.
func Connect(url string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("roundtally"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &Publisher{conn: conn, logger: logger, now: time.Now}, nil
}

// PublishRun sends a finished run's summary. Refused runs are not sent.
func (p *Publisher) PublishRun(summary domain.RunSummary) {
	if summary.Status == collector.RunRefused {
		return
	}
	p.publish(summary.ServerID, domain.EventIngestRun, summary)
}

// PublishCheckpointReset announces that a server's log will be reprocessed
func (p *Publisher) PublishCheckpointReset(serverID int64) {
	p.publish(serverID, domain.EventCheckpointReset, nil)
}

func (p *Publisher) publish(serverID int64, eventType string, data any) {
	payload, err := json.Marshal(domain.Event{
		Type:      eventType,
		ServerID:  serverID,
		Timestamp: p.now().UTC(),
		Data:      data,
	})
	if err != nil {
		p.logger.Error("encoding event", zap.String("event", eventType), zap.Error(err))
		return
	}
	if err := p.conn.Publish(Subject(serverID), payload); err != nil {
		p.logger.Warn("publishing event",
			zap.String("event", eventType),
			zap.Int64("server_id", serverID),
			zap.Error(err))
	}
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
