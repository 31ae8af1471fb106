package text

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "abc", Truncate("abc", 0))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))

	// "熔断" 每个字 3 字节，上限落在第二个字中间时退回到字边界。
	out := Truncate("熔断暂停", 4)
	assert.Equal(t, "熔...", out)
	assert.True(t, utf8.ValidString(out))
}
