package mqttcore

import (
	"slices"
)

// subscription is a locally registered topic filter and its handler.
type subscription struct {
	filter  string
	levels  []string
	qos     byte
	handler MessageHandler
	wait    WaitFlags

	// protocol is set when the filter holds its own broker subscription.
	// Filters registered under a master only exist locally.
	protocol bool
}

// master is a broker subscription that stands in for every local filter it
// covers.
type master struct {
	filter string
	levels []string
	qos    byte
}

// subscriptionList keeps the local filters in registration order and the
// master prefixes. It is guarded by the client lock.
type subscriptionList struct {
	subs    []*subscription
	masters []*master
}

// find returns the subscription registered for filter.
func (l *subscriptionList) find(filter string) *subscription {
	for _, s := range l.subs {
		if s.filter == filter {
			return s
		}
	}
	return nil
}

// add registers sub, replacing the handler of an existing filter in place
// so dispatch order is preserved.
func (l *subscriptionList) add(sub *subscription) {
	if existing := l.find(sub.filter); existing != nil {
		existing.handler = sub.handler
		existing.qos = sub.qos
		existing.wait = sub.wait
		existing.protocol = existing.protocol || sub.protocol
		return
	}
	l.subs = append(l.subs, sub)
}

// remove unregisters filter and returns what was removed.
func (l *subscriptionList) remove(filter string) *subscription {
	for i, s := range l.subs {
		if s.filter == filter {
			l.subs = slices.Delete(l.subs, i, i+1)
			return s
		}
	}
	return nil
}

// coveringMaster returns a master whose filter covers levels.
func (l *subscriptionList) coveringMaster(levels []string) *master {
	for _, m := range l.masters {
		if filterCovers(m.levels, levels) {
			return m
		}
	}
	return nil
}

// findMaster returns the master registered for filter.
func (l *subscriptionList) findMaster(filter string) *master {
	for _, m := range l.masters {
		if m.filter == filter {
			return m
		}
	}
	return nil
}

// addMaster registers m unless a master with the same filter exists.
func (l *subscriptionList) addMaster(m *master) {
	if existing := l.findMaster(m.filter); existing != nil {
		existing.qos = m.qos
		return
	}
	l.masters = append(l.masters, m)
}

// removeMaster unregisters the master for filter.
func (l *subscriptionList) removeMaster(filter string) *master {
	for i, m := range l.masters {
		if m.filter == filter {
			l.masters = slices.Delete(l.masters, i, i+1)
			return m
		}
	}
	return nil
}

// match returns the handlers of every local filter matching the topic, in
// registration order.
func (l *subscriptionList) match(topic string) []MessageHandler {
	levels := SplitTopic(topic)

	var handlers []MessageHandler
	for _, s := range l.subs {
		if matchLevels(s.levels, levels) {
			handlers = append(handlers, s.handler)
		}
	}
	return handlers
}

// protocolSubscriptions lists the broker subscriptions the list relies on:
// every master and every filter holding its own subscription.
func (l *subscriptionList) protocolSubscriptions() []Subscription {
	var out []Subscription
	for _, m := range l.masters {
		out = append(out, Subscription{TopicFilter: m.filter, QoS: m.qos})
	}
	for _, s := range l.subs {
		if s.protocol {
			out = append(out, Subscription{TopicFilter: s.filter, QoS: s.qos})
		}
	}
	return out
}

// len returns the number of local filters.
func (l *subscriptionList) len() int {
	return len(l.subs)
}

// clear drops every filter and master.
func (l *subscriptionList) clear() {
	l.subs = nil
	l.masters = nil
}
