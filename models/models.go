package models

import (
	"sort"
	"strings"
	"time"
)

// DefaultChannel is the channel players and admin consoles use when none is named.
const DefaultChannel = "default"

// reservedChannelNames collide with HTTP route segments and cannot be used as channel names.
var reservedChannelNames = map[string]struct{}{
	"admin":    {},
	"api":      {},
	"channels": {},
	"health":   {},
	"player":   {},
	"static":   {},
	"videos":   {},
	"ws":       {},
}

// Video represents a record queued on a channel
type Video struct {
	ID          string    `json:"id" bson:"id"`
	URL         string    `json:"url" bson:"url"`
	Added       time.Time `json:"added" bson:"added"`
	Title       string    `json:"title,omitempty" bson:"title,omitempty"`
	Author      string    `json:"author,omitempty" bson:"author,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	Duration    float64   `json:"duration,omitempty" bson:"duration,omitempty"` // seconds
	Thumbnail   string    `json:"thumbnail,omitempty" bson:"thumbnail,omitempty"`
	Loaded      bool      `json:"loaded" bson:"loaded"`
}

// VideoMeta carries the optional fields supplied when a video is added.
type VideoMeta struct {
	Title       string  `json:"title,omitempty"`
	Author      string  `json:"author,omitempty"`
	Description string  `json:"description,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Thumbnail   string  `json:"thumbnail,omitempty"`
	Loaded      bool    `json:"loaded,omitempty"`
}

// VideoPatch is a partial update. Nil fields are left untouched.
type VideoPatch struct {
	URL         *string  `json:"url,omitempty"`
	Title       *string  `json:"title,omitempty"`
	Author      *string  `json:"author,omitempty"`
	Description *string  `json:"description,omitempty"`
	Duration    *float64 `json:"duration,omitempty"`
	Thumbnail   *string  `json:"thumbnail,omitempty"`
	Loaded      *bool    `json:"loaded,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p VideoPatch) Empty() bool {
	return p.URL == nil && p.Title == nil && p.Author == nil && p.Description == nil &&
		p.Duration == nil && p.Thumbnail == nil && p.Loaded == nil
}

// Apply merges the supplied fields into v. The id is never touched.
func (p VideoPatch) Apply(v *Video) {
	if p.URL != nil {
		v.URL = *p.URL
	}
	if p.Title != nil {
		v.Title = *p.Title
	}
	if p.Author != nil {
		v.Author = *p.Author
	}
	if p.Description != nil {
		v.Description = *p.Description
	}
	if p.Duration != nil {
		v.Duration = *p.Duration
	}
	if p.Thumbnail != nil {
		v.Thumbnail = *p.Thumbnail
	}
	if p.Loaded != nil {
		v.Loaded = *p.Loaded
	}
}

// Channel represents a named queue of videos with at most one selection
type Channel struct {
	Name     string  `json:"name" bson:"name"`
	Videos   []Video `json:"videos" bson:"videos"`
	Selected string  `json:"selected,omitempty" bson:"selected,omitempty"` // "" means none
}

// Find returns the video with the given id.
func (c *Channel) Find(id string) (Video, bool) {
	for _, v := range c.Videos {
		if v.ID == id {
			return v, true
		}
	}
	return Video{}, false
}

// FirstLoaded returns the earliest-added loaded video.
func (c *Channel) FirstLoaded() (Video, bool) {
	var (
		best  Video
		found bool
	)
	for _, v := range c.Videos {
		if !v.Loaded {
			continue
		}
		if !found || Before(v, best) {
			best, found = v, true
		}
	}
	return best, found
}

// Before orders videos by added time, then by id.
func Before(a, b Video) bool {
	if !a.Added.Equal(b.Added) {
		return a.Added.Before(b.Added)
	}
	return a.ID < b.ID
}

// SortVideos sorts in place by added time, then id.
func SortVideos(videos []Video) {
	sort.SliceStable(videos, func(i, j int) bool { return Before(videos[i], videos[j]) })
}

// ValidateChannelName rejects names that cannot serve as a storage key and room key.
func ValidateChannelName(name string) error {
	switch {
	case name == "":
		return ErrInvalidChannelName
	case strings.TrimSpace(name) != name:
		return ErrInvalidChannelName
	case strings.ContainsAny(name, "/?#"):
		return ErrInvalidChannelName
	}
	if _, reserved := reservedChannelNames[strings.ToLower(name)]; reserved {
		return ErrReservedChannelName
	}
	return nil
}

// ValidateURL rejects an empty video url.
func ValidateURL(url string) error {
	if strings.TrimSpace(url) == "" {
		return ErrEmptyURL
	}
	return nil
}
