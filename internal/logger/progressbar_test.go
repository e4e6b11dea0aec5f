package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		current int
		want    string
	}{
		{"empty", 4, 0, "[          ] 0/4 (0%)"},
		{"half", 4, 2, "[=====     ] 2/4 (50%)"},
		{"done", 4, 4, "[==========] 4/4 (100%)"},
		{"overflow clamps", 4, 9, "[==========] 9/4 (100%)"},
		{"zero total", 0, 0, "[          ] 0/0 (0%)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pb := NewProgressBar(tt.total, 10, false)
			pb.Update(tt.current)
			assert.Equal(t, tt.want, pb.Render())
		})
	}
}

func TestProgressBar_Increment(t *testing.T) {
	pb := NewProgressBar(3, 0, false)
	pb.Increment()
	assert.Equal(t, 33, pb.Percentage())
	assert.Equal(t, "[===       ] 1/3 (33%)", pb.Render())
}
