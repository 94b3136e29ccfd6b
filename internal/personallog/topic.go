// Package personallog routes events into a per-user encrypted audit
// channel, classifying each event into a topic by a fixed precedence
// and optionally sealing its content before it ever leaves the
// process.
package personallog

import "strings"

// TopicCategory groups topics for default-priority-style bucketing in
// the owning user's log.
type TopicCategory string

const (
	TopicCategoryAuthentication TopicCategory = "authentication"
	TopicCategoryPlugin         TopicCategory = "plugin"
	TopicCategoryPayments       TopicCategory = "payments"
	TopicCategoryCommunication  TopicCategory = "communication"
	TopicCategorySystem         TopicCategory = "system"
	TopicCategoryGeneral        TopicCategory = "general"
)

// GeneralTopicID is the small-integer ID reserved for the mandatory
// catch-all topic; every user has exactly one.
const GeneralTopicID = 1

// Topic is a user-local partition of a personal log, addressed by a
// small stable integer and matched against incoming events by the
// precedence documented on Classify.
type Topic struct {
	ID       int
	Name     string
	Category TopicCategory

	Hashtags []string

	MatchedEventCategories []string
	MatchedSources         []string
	MatchedKeywords        []string

	RetentionHours     int
	EncryptionRequired bool
}

func (t Topic) matchesKeyword(lowerTitle string) bool {
	for _, kw := range t.MatchedKeywords {
		if strings.Contains(lowerTitle, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (t Topic) matchesCategory(category string) bool {
	for _, c := range t.MatchedEventCategories {
		if c == category {
			return true
		}
	}
	return false
}

func (t Topic) matchesSource(source string) bool {
	for _, s := range t.MatchedSources {
		if s == source {
			return true
		}
	}
	return false
}

// Classify resolves the topic for an event among topics, given an
// optional explicit hint. Precedence: (a) explicit topicHint by name;
// (b) first topic whose MatchedEventCategories contains category; (c)
// first topic whose MatchedSources contains source; (d) first topic
// whose keyword list intersects the lowercased title; (e) the general
// topic. Classification is deterministic: topics are always consulted
// in the order given, so callers should keep a stable slice order per
// user.
func Classify(topics []Topic, topicHint, category, source, title string) Topic {
	lowerTitle := strings.ToLower(title)

	if topicHint != "" {
		for _, t := range topics {
			if t.Name == topicHint {
				return t
			}
		}
	}
	for _, t := range topics {
		if t.matchesCategory(category) {
			return t
		}
	}
	for _, t := range topics {
		if t.matchesSource(source) {
			return t
		}
	}
	for _, t := range topics {
		if t.matchesKeyword(lowerTitle) {
			return t
		}
	}
	for _, t := range topics {
		if t.Category == TopicCategoryGeneral {
			return t
		}
	}
	return Topic{ID: GeneralTopicID, Name: "general", Category: TopicCategoryGeneral}
}
