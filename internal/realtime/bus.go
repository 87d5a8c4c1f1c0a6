package realtime

import "context"

// BusMessage carries an already-encoded frame to other instances
type BusMessage struct {
	Origin  string  `json:"origin"`
	Room    RoomKey `json:"room"`
	Exclude string  `json:"exclude,omitempty"` // identity whose connections are skipped
	Payload []byte  `json:"payload"`
}

// Publisher fans frames out to the other router instances
type Publisher interface {
	Publish(ctx context.Context, m BusMessage) error
}
