package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStringFallsBackOnBlank(t *testing.T) {
	t.Setenv("REVIEW_TEST_STRING", "   ")
	assert.Equal(t, "fallback", String("REVIEW_TEST_STRING", "fallback"))

	t.Setenv("REVIEW_TEST_STRING", " value ")
	assert.Equal(t, "value", String("REVIEW_TEST_STRING", "fallback"))
}

func TestIntRejectsNonPositive(t *testing.T) {
	t.Setenv("REVIEW_TEST_INT", "-3")
	assert.Equal(t, 7, Int("REVIEW_TEST_INT", 7))

	t.Setenv("REVIEW_TEST_INT", "abc")
	assert.Equal(t, 7, Int("REVIEW_TEST_INT", 7))

	t.Setenv("REVIEW_TEST_INT", "42")
	assert.Equal(t, 42, Int("REVIEW_TEST_INT", 7))
}

func TestBool(t *testing.T) {
	t.Setenv("REVIEW_TEST_BOOL", "nope")
	assert.True(t, Bool("REVIEW_TEST_BOOL", true))

	t.Setenv("REVIEW_TEST_BOOL", "false")
	assert.False(t, Bool("REVIEW_TEST_BOOL", true))
}

func TestDuration(t *testing.T) {
	t.Setenv("REVIEW_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, Duration("REVIEW_TEST_DURATION", time.Second))

	t.Setenv("REVIEW_TEST_DURATION", "0s")
	assert.Equal(t, time.Second, Duration("REVIEW_TEST_DURATION", time.Second))
}

func TestCSVDedupesAndTrims(t *testing.T) {
	t.Setenv("REVIEW_TEST_CSV", " a, b ,a,,c ")
	assert.Equal(t, []string{"a", "b", "c"}, CSV("REVIEW_TEST_CSV", []string{"x"}))

	t.Setenv("REVIEW_TEST_CSV", " , ")
	assert.Equal(t, []string{"x"}, CSV("REVIEW_TEST_CSV", []string{"x"}))
}
