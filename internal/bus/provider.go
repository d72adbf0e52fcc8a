package bus

import (
	"strings"

	"github.com/meshrelay/orchestrator/internal/config"
	"github.com/meshrelay/orchestrator/internal/logging"
)

// Provided wraps the selected EventBus implementation.
type Provided struct {
	Bus    EventBus
	Memory *MemoryEventBus
	NATS   *NATSEventBus
}

// Provide builds the configured event bus: NATS when NATS.URL is set,
// otherwise the in-memory bus spec.md §2 describes as the default.
func Provide(cfg *config.Config, log *logging.Logger) (*Provided, func(), error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, err
		}
		return &Provided{Bus: natsBus, NATS: natsBus}, natsBus.Close, nil
	}

	memBus := NewMemoryEventBus(log)
	return &Provided{Bus: memBus, Memory: memBus}, memBus.Close, nil
}
