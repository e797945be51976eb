package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatPence(t *testing.T) {
	assert.Equal(t, "£40.00", FormatPence(4000))
	assert.Equal(t, "£0.05", FormatPence(5))
	assert.Equal(t, "£123.45", FormatPence(12345))
	assert.Equal(t, "£0.00", FormatPence(0))
	assert.Equal(t, "-£7.50", FormatPence(-750))
}
