package proto

import (
	"encoding/json"
	"strings"
)

// AnonymousCaller is shown when an offer carries no caller name.
const AnonymousCaller = "Anonymous"

const (
	MediaKindAudio = "audio"
	MediaKindVideo = "video"
)

// CallMetadata travels with every session offer.
type CallMetadata struct {
	MediaKind   string `json:"mediaKind"`
	CallerName  string `json:"callerName"`
	CallerImage string `json:"callerImage,omitempty"`
}

// IsVideo reports whether the offer asks for a video session.
func (m CallMetadata) IsVideo() bool {
	return m.MediaKind == MediaKindVideo
}

// ParseCallMetadata validates an untrusted offer payload. It never fails:
// each missing or malformed field falls back on its own, so the defaults
// are an anonymous audio call.
func ParseCallMetadata(raw json.RawMessage) CallMetadata {
	md := CallMetadata{MediaKind: MediaKindAudio, CallerName: AnonymousCaller}
	if len(raw) == 0 {
		return md
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return md
	}

	if kind, ok := stringField(fields, "mediaKind"); ok {
		if strings.EqualFold(strings.TrimSpace(kind), MediaKindVideo) {
			md.MediaKind = MediaKindVideo
		}
	} else if isVideo, ok := boolField(fields, "isVideo"); ok && isVideo {
		md.MediaKind = MediaKindVideo
	}

	if name, ok := stringField(fields, "callerName"); ok {
		if name = strings.TrimSpace(name); name != "" {
			md.CallerName = name
		}
	}
	if image, ok := stringField(fields, "callerImage"); ok {
		md.CallerImage = strings.TrimSpace(image)
	}
	return md
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func boolField(fields map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := fields[key]
	if !ok {
		return false, false
	}
	var v *bool
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return false, false
	}
	return *v, true
}
