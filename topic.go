package mqttcore

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
	ErrTopicTooLong       = errors.New("topic exceeds maximum length")
)

// MaxTopicLength is the exclusive upper bound, in bytes, for topics and
// filters accepted by Publish and Subscribe.
const MaxTopicLength = 256

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
)

// ValidateTopicName validates a topic name for publishing.
// Topic names cannot contain wildcards, NUL or control characters and must
// be shorter than MaxTopicLength.
func ValidateTopicName(topic string) error {
	if len(topic) >= MaxTopicLength {
		return ErrTopicTooLong
	}
	if err := checkTopicName(topic); err != nil {
		return err
	}
	if hasControlChar(topic) {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateTopicFilter validates a topic filter for subscribing.
// Wildcards must occupy a whole level and '#' must be the last level.
func ValidateTopicFilter(filter string) error {
	if len(filter) >= MaxTopicLength {
		return ErrTopicTooLong
	}
	if err := checkTopicFilter(filter); err != nil {
		return err
	}
	if hasControlChar(filter) {
		return ErrInvalidTopicFilter
	}
	return nil
}

// checkTopicName applies the wire-level rules for a PUBLISH topic.
func checkTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}

	for i := range len(topic) {
		switch topic[i] {
		case 0, singleLevelWildcard, multiLevelWildcard:
			return ErrInvalidTopicName
		}
	}

	return nil
}

// checkTopicFilter applies the wire-level rules for a SUBSCRIBE filter.
func checkTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(filter) || strings.IndexByte(filter, 0) >= 0 {
		return ErrInvalidTopicFilter
	}

	levels := strings.Split(filter, string(topicSeparator))

	for i, level := range levels {
		if strings.IndexByte(level, singleLevelWildcard) >= 0 && level != "+" {
			return ErrInvalidTopicFilter
		}

		if strings.IndexByte(level, multiLevelWildcard) >= 0 {
			if level != "#" || i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}

	return nil
}

func hasControlChar(s string) bool {
	for i := range len(s) {
		if s[i] < 0x20 || s[i] == 0x7F {
			return true
		}
	}
	return false
}

// SplitTopic splits a topic or filter into its levels.
func SplitTopic(topic string) []string {
	return strings.Split(topic, string(topicSeparator))
}

// TopicMatch checks if a topic name matches a topic filter.
//
// Levels are compared in lock-step. '+' matches exactly one level, '#'
// matches the remaining levels including none, so "a/#" matches "a".
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	return matchLevels(SplitTopic(filter), SplitTopic(topic))
}

// matchLevels matches pre-split filter levels against pre-split topic levels.
func matchLevels(filter, topic []string) bool {
	for i := 0; ; i++ {
		if i == len(filter) {
			return i == len(topic)
		}

		if filter[i] == "#" {
			return i == len(filter)-1
		}

		if i == len(topic) {
			return false
		}

		if filter[i] != "+" && filter[i] != topic[i] {
			return false
		}
	}
}

// filterCovers reports whether every topic matched by filter is also
// matched by master.
func filterCovers(master, filter []string) bool {
	for i, level := range master {
		if level == "#" {
			return true
		}

		if i == len(filter) {
			return false
		}

		switch {
		case filter[i] == "#":
			return false
		case level == "+":
			continue
		case level != filter[i]:
			return false
		}
	}

	return len(filter) == len(master)
}
