package kuvert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEventType(t *testing.T) {
	cases := map[string]EventType{
		"opened":        EventOpened,
		"Opened":        EventOpened,
		"uniqueOpened":  EventOpened,
		"unique_opened": EventOpened,
		"firstOpening":  EventOpened,
		"proxy_open":    EventOpened,
		"hardBounce":    EventHardBounce,
		"hard bounce":   EventHardBounce,
		"Hard Bounce":   EventHardBounce,
		"hard-bounce":   EventHardBounce,
		"soft_bounce":   EventSoftBounce,
		"softBounce":    EventSoftBounce,
		"bounce":        EventHardBounce,
		"spam":          EventSpam,
		"complaint":     EventSpam,
		"click":         EventClicked,
		"delivered":     EventDelivered,
		"":              EventUnknown,
		"  ":            EventUnknown,
		"something new": EventType("something_new"),
	}
	for raw, expected := range cases {
		assert.Equal(t, expected, NormalizeEventType(raw), "raw %q", raw)
	}
}

func TestCutTag(t *testing.T) {
	tags := []string{"newsletter", "appKey:k1", "message:m1"}

	appKey, ok := CutTag(tags, TagPrefixAppKey)
	assert.True(t, ok)
	assert.Equal(t, "k1", appKey)

	messageId, ok := CutTag(tags, TagPrefixMessage)
	assert.True(t, ok)
	assert.Equal(t, "m1", messageId)

	_, ok = CutTag([]string{"newsletter"}, TagPrefixAppKey)
	assert.False(t, ok)

	// empty value does not count as a routing tag
	_, ok = CutTag([]string{"appKey:"}, TagPrefixAppKey)
	assert.False(t, ok)
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "jane@example.com", AddressOf("jane@example.com").String())
	assert.Equal(t, `"Jane" <jane@example.com>`, Address{Name: "Jane", Email: "jane@example.com"}.String())
}
