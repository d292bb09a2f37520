package checkpoint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_SetGetClone(t *testing.T) {
	s := State{}
	require.NoError(t, s.Set("queries", []string{"a", "b"}))

	var got []string
	ok, err := s.Get("queries", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)

	ok, err = s.Get("missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	clone := s.Clone()
	clone["queries"][2] = 'X'
	assert.Equal(t, `["a","b"]`, string(s["queries"]), "clone must not share bytes")
}

func TestState_GetDecodeError(t *testing.T) {
	s := State{"n": json.RawMessage(`"text"`)}
	var n int
	ok, err := s.Get("n", &n)
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestCheckpoint_Clone(t *testing.T) {
	cp := &Checkpoint{
		RunID: "run-1",
		Graph: "report",
		State: State{"topic": json.RawMessage(`"go"`)},
		Loop:  &LoopCursor{Gate: 4, Next: 3, Mode: LoopNarrow},
	}
	clone := cp.Clone()
	clone.Loop.Next = 4
	clone.State["topic"] = json.RawMessage(`"rust"`)

	assert.Equal(t, 3, cp.Loop.Next)
	assert.Equal(t, `"go"`, string(cp.State["topic"]))
	assert.Nil(t, (*Checkpoint)(nil).Clone())
}

func TestValidateRunID(t *testing.T) {
	tests := []struct {
		name    string
		runID   string
		wantErr bool
	}{
		{"uuid", "3f2b6a9e-1c4d-4f5e-9a7b-2c3d4e5f6a7b", false},
		{"session", "session_42:report", false},
		{"empty", "", true},
		{"path traversal", "../etc/passwd", true},
		{"slash", "a/b", true},
		{"dotdot", "..", true},
		{"space", "a b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunID(tt.runID)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRunID)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckpoint_Validate(t *testing.T) {
	assert.Error(t, (&Checkpoint{RunID: "r"}).Validate())
	assert.Error(t, (&Checkpoint{RunID: "r", Graph: "g", StageIndex: -1}).Validate())
	assert.NoError(t, (&Checkpoint{RunID: "r", Graph: "g"}).Validate())
}

func TestCheckVersion(t *testing.T) {
	v := func(n int64) *int64 { return &n }

	assert.NoError(t, CheckVersion(nil, 0))
	assert.NoError(t, CheckVersion(v(3), 3))
	assert.ErrorIs(t, CheckVersion(nil, 2), ErrVersionConflict)
	assert.ErrorIs(t, CheckVersion(v(4), 3), ErrVersionConflict)
	assert.ErrorIs(t, CheckVersion(v(1), 0), ErrVersionConflict)
}
