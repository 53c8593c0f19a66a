package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/contraption-arena/internal/vec"
)

func TestControlRoundTrip(t *testing.T) {
	raw, err := Encode(MsgBaseHP, BaseHP{Team: 1, HP: 2})
	require.NoError(t, err)

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, MsgBaseHP, env.T)

	hp, err := DecodePayload[BaseHP](env)
	require.NoError(t, err)
	assert.Equal(t, BaseHP{Team: 1, HP: 2}, hp)
}

func TestControlMalformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte("{not json"))
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = DecodeEnvelope([]byte(`{"p":{}}`))
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = DecodePayload[Input](Envelope{T: MsgInput, P: []byte(`"fast"`)})
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = Encode("", Input{})
	assert.Error(t, err)
}

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Seq:       42,
		Timestamp: 123456,
		Bodies: []Body{
			{
				ID: 7, X: 100.5, Y: -20.25, Angle: 1.5,
				HasGeometry: true,
				Vertices:    []vec.Vec2Float{{X: 80, Y: -40}, {X: 120, Y: -40}, {X: 120, Y: 0}},
				Color:       "#f2c14e",
				HasHealth:   true, HealthPercent: 0.5,
			},
			{ID: 8, X: 1, Y: 2, Angle: -0.25},
			{ID: 9, X: 3, Y: 4, HasGeometry: true, CircleRadius: 12, Static: true},
		},
		Effects: []Effect{
			{Kind: EffectExplosion, X: 10, Y: 20, Amount: 80, Radius: 120, Team: 1},
			{Kind: EffectBaseHit, X: 0, Y: 0, Team: -1},
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	in := sampleSnapshot()
	out, err := DecodeSnapshot(EncodeSnapshot(in))
	require.NoError(t, err)

	assert.Equal(t, in.Seq, out.Seq)
	assert.Equal(t, in.Timestamp, out.Timestamp)
	require.Len(t, out.Bodies, 3)
	require.Len(t, out.Effects, 2)

	first := out.Bodies[0]
	assert.True(t, first.HasGeometry)
	assert.InDelta(t, 100.5, first.X, 1e-4)
	assert.InDelta(t, -20.25, first.Y, 1e-4)
	assert.InDelta(t, 1.5, first.Angle, 1e-6)
	require.Len(t, first.Vertices, 3)
	assert.InDelta(t, 120, first.Vertices[2].X, 1e-4)
	assert.Equal(t, "#f2c14e", first.Color)
	assert.True(t, first.HasHealth)
	assert.InDelta(t, 0.5, first.HealthPercent, 1e-6)

	second := out.Bodies[1]
	assert.False(t, second.HasGeometry)
	assert.Empty(t, second.Vertices)
	assert.False(t, second.HasHealth)

	third := out.Bodies[2]
	assert.True(t, third.Static)
	assert.InDelta(t, 12, third.CircleRadius, 1e-6)

	assert.Equal(t, EffectExplosion, out.Effects[0].Kind)
	assert.InDelta(t, 120, out.Effects[0].Radius, 1e-4)
	assert.Equal(t, -1, out.Effects[1].Team)
}

func TestSnapshotGeometryIsOptional(t *testing.T) {
	s := sampleSnapshot()
	full := len(EncodeSnapshot(s))
	for i := range s.Bodies {
		s.Bodies[i].HasGeometry = false
	}
	assert.Less(t, len(EncodeSnapshot(s)), full)
}

func TestSnapshotMalformed(t *testing.T) {
	_, err := DecodeSnapshot(nil)
	assert.True(t, errors.Is(err, ErrMalformed))

	raw := EncodeSnapshot(sampleSnapshot())
	_, err = DecodeSnapshot(raw[:len(raw)-3])
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = DecodeSnapshot([]byte{0xff, 0xff, 0xff})
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestCompressorThreshold(t *testing.T) {
	c, err := NewCompressor(true)
	require.NoError(t, err)
	defer c.Close()

	small := []byte("tiny")
	frame := c.Pack(FrameControl, small)
	assert.Equal(t, byte(FrameControl), frame[0])
	assert.Equal(t, small, frame[1:])

	big := bytes.Repeat([]byte("snapshot"), 200)
	frame = c.Pack(FrameSnapshot, big)
	assert.NotZero(t, frame[0]&flagCompressed)
	assert.Less(t, len(frame), len(big))

	kind, out, err := c.Unpack(frame)
	require.NoError(t, err)
	assert.Equal(t, FrameSnapshot, kind)
	assert.Equal(t, big, out)
}

func TestCompressorDisabledStillDecodes(t *testing.T) {
	on, err := NewCompressor(true)
	require.NoError(t, err)
	defer on.Close()
	off, err := NewCompressor(false)
	require.NoError(t, err)
	defer off.Close()

	big := bytes.Repeat([]byte{1, 2, 3, 4}, 300)
	assert.Zero(t, off.Pack(FrameSnapshot, big)[0]&flagCompressed)

	_, out, err := off.Unpack(on.Pack(FrameSnapshot, big))
	require.NoError(t, err)
	assert.Equal(t, big, out)
}

func TestCompressorRejectsGarbage(t *testing.T) {
	c, err := NewCompressor(true)
	require.NoError(t, err)
	defer c.Close()

	for _, frame := range [][]byte{nil, {1}, {0x05, 1, 2}, {0x82, 1, 2, 3}} {
		_, _, err := c.Unpack(frame)
		assert.True(t, errors.Is(err, ErrMalformed), fmt.Sprintf("% x", frame))
	}
}
