package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable(t *testing.T) {
	t.Parallel()
	out := Table([]string{"NAME", "EMAIL"}, [][]string{
		{"Sarah Connor", "sarah@example.com"},
		{"David Park", ""},
	})

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Sarah Connor")
	assert.Contains(t, out, "sarah@example.com")
	assert.Contains(t, out, "David Park")
}
