package core

// subscription.go implements the publish/subscribe registry from §4.11:
// agents subscribe to a (publisher, topic) pair with a handler method, a
// publisher can list its topic's subscribers, and an agent can list its
// own subscriptions. Topics are matched case-insensitively and normalized
// to a leading slash, mirroring the original source's topic handling.

import (
	"encoding/json"
	"strings"
)

const (
	subsByTopicBucket = "subs-by-topic" // publisher(16)+topic -> []Subscriber JSON
	subsByAgentBucket = "subs-by-agent" // agent(16) -> []Subscription JSON
)

// Subscriber is one agent registered against a (publisher, topic) pair.
type Subscriber struct {
	Agent  Id     `json:"agent"`
	Method string `json:"method"`
}

// Subscription is one (publisher, topic, method) triple from an agent's
// own point of view, as returned by get_subscriptions.
type Subscription struct {
	Publisher Id     `json:"publisher"`
	Topic     string `json:"topic"`
	Method    string `json:"method"`
}

// NormalizeTopic lower-cases a topic and ensures it starts with a slash,
// the canonical form every other function in this file assumes its inputs
// are already in.
func NormalizeTopic(topic string) (string, error) {
	if strings.ContainsAny(topic, "\n\r") {
		return "", NewErr(KindInvalidArgument, "topic must not contain a newline")
	}
	t := strings.ToLower(strings.TrimSpace(topic))
	if !strings.HasPrefix(t, "/") {
		t = "/" + t
	}
	return t, nil
}

func topicKey(publisher Id, topic string) []byte {
	return append(append([]byte(nil), publisher[:]...), []byte(topic)...)
}

// Subscribe registers agent to receive publisher's topic events via
// method, returning KindKeyExist if the exact triple is already present.
func Subscribe(txn RwTxn, publisher, agent Id, topic, method string) error {
	topic, err := NormalizeTopic(topic)
	if err != nil {
		return err
	}

	byTopic, err := txn.WritableBucket(subsByTopicBucket)
	if err != nil {
		return err
	}
	subs, err := readSubscribers(byTopic, publisher, topic)
	if err != nil {
		return err
	}
	for _, s := range subs {
		if s.Agent == agent && s.Method == method {
			return NewErr(KindKeyExist, "agent already subscribed to this publisher/topic/method")
		}
	}
	subs = append(subs, Subscriber{Agent: agent, Method: method})
	if err := writeSubscribers(byTopic, publisher, topic, subs); err != nil {
		return err
	}

	byAgent, err := txn.WritableBucket(subsByAgentBucket)
	if err != nil {
		return err
	}
	list, err := readSubscriptions(byAgent, agent)
	if err != nil {
		return err
	}
	list = append(list, Subscription{Publisher: publisher, Topic: topic, Method: method})
	return writeSubscriptions(byAgent, agent, list)
}

// Unsubscribe removes a previously-registered (publisher, topic, method,
// agent) entry. Unsubscribing from something not present is a no-op.
func Unsubscribe(txn RwTxn, publisher, agent Id, topic, method string) error {
	topic, err := NormalizeTopic(topic)
	if err != nil {
		return err
	}

	byTopic, err := txn.WritableBucket(subsByTopicBucket)
	if err != nil {
		return err
	}
	subs, err := readSubscribers(byTopic, publisher, topic)
	if err != nil {
		return err
	}
	filtered := subs[:0]
	for _, s := range subs {
		if s.Agent == agent && s.Method == method {
			continue
		}
		filtered = append(filtered, s)
	}
	if err := writeSubscribers(byTopic, publisher, topic, filtered); err != nil {
		return err
	}

	byAgent, err := txn.WritableBucket(subsByAgentBucket)
	if err != nil {
		return err
	}
	list, err := readSubscriptions(byAgent, agent)
	if err != nil {
		return err
	}
	keep := list[:0]
	for _, s := range list {
		if s.Publisher == publisher && s.Topic == topic && s.Method == method {
			continue
		}
		keep = append(keep, s)
	}
	return writeSubscriptions(byAgent, agent, keep)
}

// GetTopicSubscribers lists the agents currently subscribed to
// publisher's topic.
func GetTopicSubscribers(txn RoTxn, publisher Id, topic string) ([]Subscriber, error) {
	topic, err := NormalizeTopic(topic)
	if err != nil {
		return nil, err
	}
	bucket, ok := txn.Bucket(subsByTopicBucket)
	if !ok {
		return nil, nil
	}
	b, ok := bucket.Get(topicKey(publisher, topic))
	if !ok {
		return nil, nil
	}
	var subs []Subscriber
	if err := json.Unmarshal(b, &subs); err != nil {
		return nil, WrapErr(KindCorrupted, "unmarshal subscribers", err)
	}
	return subs, nil
}

// GetSubscriptions lists everything agent is currently subscribed to.
func GetSubscriptions(txn RoTxn, agent Id) ([]Subscription, error) {
	bucket, ok := txn.Bucket(subsByAgentBucket)
	if !ok {
		return nil, nil
	}
	b, ok := bucket.Get(agent[:])
	if !ok {
		return nil, nil
	}
	var subs []Subscription
	if err := json.Unmarshal(b, &subs); err != nil {
		return nil, WrapErr(KindCorrupted, "unmarshal subscriptions", err)
	}
	return subs, nil
}

func readSubscribers(bucket RwBucket, publisher Id, topic string) ([]Subscriber, error) {
	b, ok := bucket.Get(topicKey(publisher, topic))
	if !ok {
		return nil, nil
	}
	var subs []Subscriber
	if err := json.Unmarshal(b, &subs); err != nil {
		return nil, WrapErr(KindCorrupted, "unmarshal subscribers", err)
	}
	return subs, nil
}

func writeSubscribers(bucket RwBucket, publisher Id, topic string, subs []Subscriber) error {
	b, err := json.Marshal(subs)
	if err != nil {
		return WrapErr(KindCorrupted, "marshal subscribers", err)
	}
	return bucket.Put(topicKey(publisher, topic), b)
}

func readSubscriptions(bucket RwBucket, agent Id) ([]Subscription, error) {
	b, ok := bucket.Get(agent[:])
	if !ok {
		return nil, nil
	}
	var subs []Subscription
	if err := json.Unmarshal(b, &subs); err != nil {
		return nil, WrapErr(KindCorrupted, "unmarshal subscriptions", err)
	}
	return subs, nil
}

func writeSubscriptions(bucket RwBucket, agent Id, subs []Subscription) error {
	b, err := json.Marshal(subs)
	if err != nil {
		return WrapErr(KindCorrupted, "marshal subscriptions", err)
	}
	return bucket.Put(agent[:], b)
}
