// Package router fans out messages from one broad subscription, usually a
// master prefix, to handlers chosen by topic, QoS, retain flag or payload.
package router

import (
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/mqttcore"
)

// Handler processes a routed message.
type Handler func(msg *mqttcore.Message)

// route is one registered handler and the predicates it needs.
type route struct {
	handler Handler
	filter  string
	checks  []func(*mqttcore.Message) bool
}

func (rt *route) accepts(msg *mqttcore.Message) bool {
	for _, check := range rt.checks {
		if !check(msg) {
			return false
		}
	}
	return true
}

// ConditionOption narrows the messages a handler receives.
type ConditionOption func(*route)

// WithTopic matches topics against an MQTT filter with + and # wildcards.
func WithTopic(filter string) ConditionOption {
	return func(rt *route) {
		rt.filter = filter
		rt.checks = append(rt.checks, func(msg *mqttcore.Message) bool {
			return mqttcore.TopicMatch(filter, msg.Topic)
		})
	}
}

// WithQoS matches the delivery QoS.
func WithQoS(qos byte) ConditionOption {
	return func(rt *route) {
		rt.checks = append(rt.checks, func(msg *mqttcore.Message) bool { return msg.QoS == qos })
	}
}

// WithRetained separates retained state replayed on subscribe from live
// updates.
func WithRetained(retained bool) ConditionOption {
	return func(rt *route) {
		rt.checks = append(rt.checks, func(msg *mqttcore.Message) bool { return msg.Retain == retained })
	}
}

// WithPayload matches payloads against pattern.
func WithPayload(pattern *regexp.Regexp) ConditionOption {
	return func(rt *route) {
		rt.checks = append(rt.checks, func(msg *mqttcore.Message) bool { return pattern.Match(msg.Payload) })
	}
}

// Router is safe for concurrent Handle and Route calls.
type Router struct {
	mu     sync.RWMutex
	routes []*route
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

// Handle registers handler. With no options it receives every message.
//
//	r.Handle(onMeter, router.WithTopic("site/+/meter"), router.WithQoS(1))
//	r.Handle(onReboot, router.WithTopic("dev/+/cmd"), router.WithPayload(regexp.MustCompile(`^reboot`)))
func (r *Router) Handle(handler Handler, opts ...ConditionOption) {
	rt := &route{handler: handler}
	for _, opt := range opts {
		opt(rt)
	}

	r.mu.Lock()
	r.routes = append(r.routes, rt)
	r.mu.Unlock()
}

// Route calls every accepting handler in registration order, outside the
// lock, and reports whether there was at least one.
func (r *Router) Route(msg *mqttcore.Message) bool {
	if msg == nil {
		return false
	}

	r.mu.RLock()
	var hits []Handler
	for _, rt := range r.routes {
		if rt.accepts(msg) {
			hits = append(hits, rt.handler)
		}
	}
	r.mu.RUnlock()

	for _, h := range hits {
		h(msg)
	}
	return len(hits) > 0
}

// Filters lists the distinct topic filters in use, sorted. Pass them to
// Client.Subscribe when the router is not behind a master prefix.
func (r *Router) Filters() []string {
	r.mu.RLock()
	var filters []string
	for _, rt := range r.routes {
		if rt.filter != "" {
			filters = append(filters, rt.filter)
		}
	}
	r.mu.RUnlock()

	slices.Sort(filters)
	return slices.Compact(filters)
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Clear drops every handler.
func (r *Router) Clear() {
	r.mu.Lock()
	r.routes = nil
	r.mu.Unlock()
}

// OnMessage lets a Router be passed to Client.Subscribe or mqttcore.Spawn.
func (r *Router) OnMessage(msg *mqttcore.Message) {
	r.Route(msg)
}
