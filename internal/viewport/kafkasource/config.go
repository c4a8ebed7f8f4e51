package kafkasource

import (
	"time"

	"github.com/mohammed-shakir/osm-viewport/internal/core/config"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	// InitialOldest replays retained events on first start.
	InitialOldest bool
}

func FromConfig(k config.KafkaCfg) Config {
	return Config{
		Brokers:          k.BrokerList(),
		Topic:            k.Topic,
		GroupID:          k.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}
}
