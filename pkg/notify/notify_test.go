package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		template string
		values   map[string]string
		want     string
	}{
		{"plain", "connected", nil, "connected"},
		{"one tag", "sent {name}", map[string]string{"name": "cat.png"}, "sent cat.png"},
		{"two tags", "{user} sent {name}", map[string]string{"user": "bob", "name": "x.png"}, "bob sent x.png"},
		{"missing tag", "sent {name}", map[string]string{}, "sent "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.template, tt.values))
		})
	}
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	var calls int
	sink := Multi{&a, nil, &b, Func(func(Notice) { calls++ })}

	Send(sink, Warn, "careful")
	Send(nil, Error, "dropped")

	assert.Len(t, a.Notices(), 1)
	assert.Len(t, b.Notices(), 1)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Warn, a.Notices()[0].Level)
	assert.Equal(t, "careful", a.Notices()[0].Message)
	assert.Equal(t, "warning", Warn.String())
}
