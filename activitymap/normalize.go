package activitymap

import (
	"maps"
	"strings"
	"time"

	session "github.com/goliatone/go-session"
)

const (
	// MetadataKeyEmailDomain stores the domain part of the event email.
	MetadataKeyEmailDomain = "email_domain"
	// MetadataKeyOutcome stores "success" or "failure" for events that carry one.
	MetadataKeyOutcome = "outcome"
)

const (
	defaultChannel = "web"
	anonymousActor = "anonymous"
)

// Normalized is a transport agnostic activity record for log and metric sinks.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel string
}

// Normalize converts a session.ActivityEvent into the generic shape. The object
// type is the first segment of the event type ("session", "profile").
func Normalize(event session.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{channel: defaultChannel}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := strings.TrimSpace(event.UserID)
	if actorID == "" {
		actorID = anonymousActor
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: ObjectType(event.EventType),
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// ObjectType returns the leading segment of an event type.
func ObjectType(eventType session.ActivityEventType) string {
	head, _, _ := strings.Cut(string(eventType), ".")
	return head
}

// Outcome reports "failure" for *.failure events and "success" otherwise.
func Outcome(eventType session.ActivityEventType) string {
	if strings.HasSuffix(string(eventType), ".failure") {
		return "failure"
	}
	return "success"
}

// WithChannel sets the channel recorded on normalized events.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if channel = strings.TrimSpace(channel); channel != "" {
			opts.channel = channel
		}
	}
}

func normalizeMetadata(event session.ActivityEvent) map[string]any {
	metadata := make(map[string]any, len(event.Metadata)+2)
	maps.Copy(metadata, event.Metadata)

	if _, domain, ok := strings.Cut(strings.TrimSpace(event.Email), "@"); ok && domain != "" {
		if _, exists := metadata[MetadataKeyEmailDomain]; !exists {
			metadata[MetadataKeyEmailDomain] = strings.ToLower(domain)
		}
	}
	if _, exists := metadata[MetadataKeyOutcome]; !exists {
		metadata[MetadataKeyOutcome] = Outcome(event.EventType)
	}
	return metadata
}
