// Package events defines the channel-qualified domain events emitted after
// committed mutations and the in-process bus that relays them.
package events

import "channel-sync-backend/models"

// Event is a committed change on a single channel.
// The set is closed: VideoAdded, VideoRemoved, VideoUpdated, VideoSelected.
type Event interface {
	// ChannelName returns the channel the event belongs to.
	ChannelName() string
	// Kind returns the wire name of the event.
	Kind() models.MessageType
	// Message renders the event as a websocket envelope.
	Message() (models.Message, error)

	sealed()
}

type VideoAdded struct {
	Channel string
	Video   models.Video
}

type VideoRemoved struct {
	Channel string
	VideoID string
}

type VideoUpdated struct {
	Channel string
	Video   models.Video
}

// VideoSelected reports the current selection. An empty VideoID means none.
type VideoSelected struct {
	Channel string
	VideoID string
}

func (e VideoAdded) ChannelName() string    { return e.Channel }
func (e VideoRemoved) ChannelName() string  { return e.Channel }
func (e VideoUpdated) ChannelName() string  { return e.Channel }
func (e VideoSelected) ChannelName() string { return e.Channel }

func (VideoAdded) Kind() models.MessageType    { return models.TypeVideoAdded }
func (VideoRemoved) Kind() models.MessageType  { return models.TypeVideoRemoved }
func (VideoUpdated) Kind() models.MessageType  { return models.TypeVideoUpdated }
func (VideoSelected) Kind() models.MessageType { return models.TypeVideoSelected }

func (VideoAdded) sealed()    {}
func (VideoRemoved) sealed()  {}
func (VideoUpdated) sealed()  {}
func (VideoSelected) sealed() {}

func (e VideoAdded) Message() (models.Message, error) {
	return models.NewMessage(e.Kind(), models.VideoPayload{ChannelName: e.Channel, Video: e.Video})
}

func (e VideoRemoved) Message() (models.Message, error) {
	return models.NewMessage(e.Kind(), models.VideoRemovedPayload{
		ChannelName: e.Channel,
		Video:       models.VideoRef{ID: e.VideoID},
	})
}

func (e VideoUpdated) Message() (models.Message, error) {
	return models.NewMessage(e.Kind(), models.VideoPayload{ChannelName: e.Channel, Video: e.Video})
}

func (e VideoSelected) Message() (models.Message, error) {
	p := models.VideoSelectedPayload{ChannelName: e.Channel}
	if e.VideoID != "" {
		id := e.VideoID
		p.VideoID = &id
	}
	return models.NewMessage(e.Kind(), p)
}

// None reports whether the event clears the selection.
func (e VideoSelected) None() bool { return e.VideoID == "" }

// Parse converts a server-to-client envelope back into an Event.
func Parse(msg models.Message) (Event, error) {
	switch msg.Type {
	case models.TypeVideoAdded:
		var p models.VideoPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return VideoAdded{Channel: p.ChannelName, Video: p.Video}, nil
	case models.TypeVideoRemoved:
		var p models.VideoRemovedPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return VideoRemoved{Channel: p.ChannelName, VideoID: p.Video.ID}, nil
	case models.TypeVideoUpdated:
		var p models.VideoPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return VideoUpdated{Channel: p.ChannelName, Video: p.Video}, nil
	case models.TypeVideoSelected:
		var p models.VideoSelectedPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		e := VideoSelected{Channel: p.ChannelName}
		if p.VideoID != nil {
			e.VideoID = *p.VideoID
		}
		return e, nil
	}
	return nil, ErrUnknownEvent
}
