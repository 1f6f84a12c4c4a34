package pairing

import (
	"strings"
	"time"

	"RelayGate/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// DefaultSubject 后端主动推送配对码的主题。
const DefaultSubject = "relay.pairing.push"

// NatsConfig NATS 接入配置。
type NatsConfig struct {
	Servers []string
	Subject string
	Name    string // 连接名，用网关节点 id
}

type natsSub struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

// StartNATS 订阅配对码主题；消息体即旁路负载，原样交给投递端。
func (ch *Channel) StartNATS(cfg NatsConfig) error {
	if len(cfg.Servers) == 0 {
		return errors.New("nats servers missing")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return errors.Wrap(err, "connect nats")
	}

	sub, err := nc.Subscribe(cfg.Subject, func(m *nats.Msg) {
		ch.sink.DeliverPairing(m.Data)
	})
	if err != nil {
		nc.Close()
		return errors.Wrapf(err, "subscribe %s", cfg.Subject)
	}

	ch.nats = &natsSub{nc: nc, sub: sub}
	logger.Infof("[Pairing] nats subscribed subject=%s", cfg.Subject)
	return nil
}

// close 优雅关闭
func (n *natsSub) close() error {
	if n.sub != nil {
		_ = n.sub.Drain()
	}
	if n.nc != nil {
		return n.nc.Drain()
	}
	return nil
}
