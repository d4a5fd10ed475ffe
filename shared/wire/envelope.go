// Package wire defines the typed envelope and payload shapes exchanged
// between view sessions and the socket transport.
package wire

import "encoding/json"

// Envelope event names used by the server side of the protocol.
const (
	// EventPatch carries a compressed document patch ("o" payload).
	EventPatch = "o"
	// EventClientEvent carries a client-originated view event.
	EventClientEvent = "e"
	// EventReply carries the reply to a client ref.
	EventReply = "phx_reply"
	// EventJoin subscribes a topic.
	EventJoin = "phx_join"
	// EventLeave unsubscribes a topic.
	EventLeave = "phx_leave"
	// EventRedirect instructs the client to navigate away.
	EventRedirect = "redirect"
)

// TopicPrefix is the reserved namespace for all LiveData topics.
const TopicPrefix = "dv:"

// ViewTopicPrefix is the namespace for view session topics; a view session
// topic is ViewTopicPrefix + route.
const ViewTopicPrefix = "dv:c:"

// Envelope is a single message on the duplex channel between client and
// server. Ref and JoinRef are client-chosen and echoed back on replies.
type Envelope struct {
	// JoinRef is the ref of the join that created the topic subscription.
	JoinRef string `json:"join_ref,omitempty"`
	// Ref is the per-message ref used to correlate replies.
	Ref string `json:"ref,omitempty"`
	// Topic is the channel topic (e.g. "dv:c:counter").
	Topic string `json:"topic"`
	// Event is the envelope event name.
	Event string `json:"event"`
	// Payload is the event payload.
	Payload any `json:"payload,omitempty"`
}

// ReplyPayload is the payload of an EventReply envelope.
type ReplyPayload struct {
	// Status is "ok" or "error".
	Status string `json:"status"`
	// Response is the reply body.
	Response any `json:"response,omitempty"`
}

// NewReply builds a reply envelope for a client ref.
func NewReply(topic, ref, joinRef, status string, response any) *Envelope {
	return &Envelope{
		JoinRef: joinRef,
		Ref:     ref,
		Topic:   topic,
		Event:   EventReply,
		Payload: ReplyPayload{Status: status, Response: response},
	}
}

// RouteFromTopic extracts the route name from a view session topic.
func RouteFromTopic(topic string) (string, bool) {
	if len(topic) <= len(ViewTopicPrefix) || topic[:len(ViewTopicPrefix)] != ViewTopicPrefix {
		return "", false
	}
	return topic[len(ViewTopicPrefix):], true
}

// DecodeAny re-marshals a dynamically-typed payload into a typed struct.
//
// Socket payloads arrive as map[string]any; handlers use this to obtain
// their typed payload shape.
func DecodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
