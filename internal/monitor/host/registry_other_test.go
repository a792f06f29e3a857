//go:build !windows

package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenRegistryUnsupported(t *testing.T) {
	_, err := OpenRegistry(`HKLM\SOFTWARE`)
	assert.ErrorIs(t, err, ErrRegistryUnsupported)
}
