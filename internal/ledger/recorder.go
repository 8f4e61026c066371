package ledger

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/eventbus"
)

var busEvents = map[eventbus.EventType]EventType{
	eventbus.EventTypeSampleUpdated: EventSampleCompleted,
	eventbus.EventTypeSampleFailed:  EventSampleFailed,
	eventbus.EventTypeEntryAdded:    EventEntryCreated,
	eventbus.EventTypeEntryUpdated:  EventEntryUpdated,
	eventbus.EventTypeEntryRemoved:  EventEntryRemoved,
}

// Attach records every sample and entry event published on bus.
func (l *Ledger) Attach(bus *eventbus.Bus) {
	for busType, ledgerType := range busEvents {
		bus.Subscribe(busType, func(e eventbus.Event) {
			source, _ := e.Data["source"].(string)
			if err := l.AppendWithSource(ledgerType, e.EntryID, source, e.Data); err != nil {
				log.Error().Err(err).Str("event_type", string(ledgerType)).Str("entry_id", e.EntryID).Msg("Failed to record event")
			}
		})
	}
}
