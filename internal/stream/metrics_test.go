package stream

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabelLimiterCapsCardinality(t *testing.T) {
	limiter := newLabelLimiter(2)

	assert.Equal(t, "ping", limiter.Label("ping"))
	assert.Equal(t, "heart.beat", limiter.Label("heart.beat"))
	assert.Equal(t, otherLabel, limiter.Label("progress"))
	assert.Equal(t, "ping", limiter.Label("ping"))
}

func TestLabelLimiterRejectsUnsafeValues(t *testing.T) {
	limiter := newLabelLimiter(10)

	for _, value := range []string{"", "Ping", "a b", "évent", strings.Repeat("x", maxLabelLength+1)} {
		assert.Equal(t, otherLabel, limiter.Label(value), fmt.Sprintf("value %q", value))
	}
	assert.Equal(t, strings.Repeat("x", maxLabelLength), limiter.Label(strings.Repeat("x", maxLabelLength)))
}
