package server

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"feedview/models"
)

// Broadcaster fans refresh notifications out to connected SSE clients
type Broadcaster struct {
	sync.RWMutex
	refreshClients map[string]chan models.RefreshEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		refreshClients: make(map[string]chan models.RefreshEvent),
	}
}

// BroadcastRefresh never blocks; clients with a full buffer miss the event
func (b *Broadcaster) BroadcastRefresh(evt models.RefreshEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.refreshClients {
		select {
		case client <- evt:
		default:
			log.Warnf("Client channel full, skipping refresh for client: %v", id)
		}
	}
}

func (b *Broadcaster) AddClient(key string, client chan models.RefreshEvent) {
	b.Lock()
	defer b.Unlock()
	b.refreshClients[key] = client
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.refreshClients),
	}).Info("Adding client to broadcaster")
}

func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.refreshClients[key]; ok {
		close(client)
		delete(b.refreshClients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.refreshClients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) ClientCount() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.refreshClients)
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.refreshClients {
		close(client)
		delete(b.refreshClients, key)
	}
}
