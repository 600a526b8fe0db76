package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers return an empty Attr for zero input so they can be
// passed unconditionally.

// Error creates an attribute for a single error under the key "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component tags a log line with the emitting component.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Channel creates an attribute for a channel name.
func Channel(name string) slog.Attr {
	if name == "" {
		return slog.Attr{}
	}
	return slog.String("channel", name)
}

// VideoID creates an attribute for a video id.
func VideoID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("video_id", id)
}

// Event creates an attribute for an event or message type.
func Event(kind string) slog.Attr {
	return slog.String("event", kind)
}

// Remote creates an attribute for a peer address.
func Remote(addr string) slog.Attr {
	if addr == "" {
		return slog.Attr{}
	}
	return slog.String("remote", addr)
}

// Member creates an attribute for a connected client id.
func Member(id string) slog.Attr {
	return slog.String("member", id)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
