package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/contraption-arena/internal/vec"
)

// Номера полей снимка
const (
	snapSeq       protowire.Number = 1
	snapTimestamp protowire.Number = 2
	snapBody      protowire.Number = 3
	snapEffect    protowire.Number = 4
)

// Номера полей тела
const (
	bodyID        protowire.Number = 1
	bodyX         protowire.Number = 2
	bodyY         protowire.Number = 3
	bodyAngle     protowire.Number = 4
	bodyGeometry  protowire.Number = 5
	bodyVertices  protowire.Number = 6
	bodyRadius    protowire.Number = 7
	bodyStatic    protowire.Number = 8
	bodyColor     protowire.Number = 9
	bodyHealthPct protowire.Number = 10
)

// Номера полей эффекта
const (
	effKind   protowire.Number = 1
	effX      protowire.Number = 2
	effY      protowire.Number = 3
	effAmount protowire.Number = 4
	effRadius protowire.Number = 5
	effTeam   protowire.Number = 6
)

// EncodeSnapshot сериализует снимок. Координаты передаются как float32.
func EncodeSnapshot(s *Snapshot) []byte {
	b := make([]byte, 0, 64+len(s.Bodies)*32)
	b = protowire.AppendTag(b, snapSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Seq))
	b = protowire.AppendTag(b, snapTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.Timestamp))

	var scratch []byte
	for i := range s.Bodies {
		scratch = appendBody(scratch[:0], &s.Bodies[i])
		b = protowire.AppendTag(b, snapBody, protowire.BytesType)
		b = protowire.AppendBytes(b, scratch)
	}
	for i := range s.Effects {
		scratch = appendEffect(scratch[:0], &s.Effects[i])
		b = protowire.AppendTag(b, snapEffect, protowire.BytesType)
		b = protowire.AppendBytes(b, scratch)
	}
	return b
}

func appendFloat(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(float32(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendBody(b []byte, body *Body) []byte {
	b = protowire.AppendTag(b, bodyID, protowire.VarintType)
	b = protowire.AppendVarint(b, body.ID)
	b = appendFloat(b, bodyX, body.X)
	b = appendFloat(b, bodyY, body.Y)
	b = appendFloat(b, bodyAngle, body.Angle)

	if body.HasGeometry {
		b = appendBool(b, bodyGeometry, true)
		if len(body.Vertices) > 0 {
			packed := make([]byte, 0, len(body.Vertices)*8)
			for _, v := range body.Vertices {
				packed = protowire.AppendFixed32(packed, math.Float32bits(float32(v.X)))
				packed = protowire.AppendFixed32(packed, math.Float32bits(float32(v.Y)))
			}
			b = protowire.AppendTag(b, bodyVertices, protowire.BytesType)
			b = protowire.AppendBytes(b, packed)
		}
		if body.CircleRadius > 0 {
			b = appendFloat(b, bodyRadius, body.CircleRadius)
		}
		if body.Color != "" {
			b = protowire.AppendTag(b, bodyColor, protowire.BytesType)
			b = protowire.AppendString(b, body.Color)
		}
	}
	if body.Static {
		b = appendBool(b, bodyStatic, true)
	}
	if body.HasHealth {
		b = appendFloat(b, bodyHealthPct, body.HealthPercent)
	}
	return b
}

func appendEffect(b []byte, e *Effect) []byte {
	b = protowire.AppendTag(b, effKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	b = appendFloat(b, effX, e.X)
	b = appendFloat(b, effY, e.Y)
	if e.Amount != 0 {
		b = appendFloat(b, effAmount, e.Amount)
	}
	if e.Radius != 0 {
		b = appendFloat(b, effRadius, e.Radius)
	}
	b = protowire.AppendTag(b, effTeam, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.Team)))
	return b
}

// fieldReader обходит поля одного сообщения
type fieldReader struct {
	b   []byte
	err error
}

// next возвращает номер и тип следующего поля; false по концу или ошибке
func (r *fieldReader) next() (protowire.Number, protowire.Type, bool) {
	if r.err != nil || len(r.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0, 0, false
	}
	r.b = r.b[n:]
	return num, typ, true
}

func (r *fieldReader) fail(n int) bool {
	if n < 0 {
		r.err = protowire.ParseError(n)
		return true
	}
	return false
}

func (r *fieldReader) expect(typ, want protowire.Type) bool {
	if typ != want {
		r.err = fmt.Errorf("wire type %d, want %d", typ, want)
		return false
	}
	return true
}

func (r *fieldReader) varint(typ protowire.Type) uint64 {
	if !r.expect(typ, protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if r.fail(n) {
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) float(typ protowire.Type) float64 {
	if !r.expect(typ, protowire.Fixed32Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed32(r.b)
	if r.fail(n) {
		return 0
	}
	r.b = r.b[n:]
	return float64(math.Float32frombits(v))
}

func (r *fieldReader) bytes(typ protowire.Type) []byte {
	if !r.expect(typ, protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if r.fail(n) {
		return nil
	}
	r.b = r.b[n:]
	return v
}

// skip пропускает неизвестное поле
func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if r.fail(n) {
		return
	}
	r.b = r.b[n:]
}

// DecodeSnapshot разбирает снимок. Неизвестные поля пропускаются.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot", ErrMalformed)
	}
	s := &Snapshot{}
	r := fieldReader{b: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case snapSeq:
			s.Seq = uint32(r.varint(typ))
		case snapTimestamp:
			s.Timestamp = protowire.DecodeZigZag(r.varint(typ))
		case snapBody:
			raw := r.bytes(typ)
			if r.err != nil {
				break
			}
			body, err := decodeBody(raw)
			if err != nil {
				r.err = err
				break
			}
			s.Bodies = append(s.Bodies, body)
		case snapEffect:
			raw := r.bytes(typ)
			if r.err != nil {
				break
			}
			eff, err := decodeEffect(raw)
			if err != nil {
				r.err = err
				break
			}
			s.Effects = append(s.Effects, eff)
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", ErrMalformed, r.err)
	}
	return s, nil
}

func decodeBody(data []byte) (Body, error) {
	var body Body
	r := fieldReader{b: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case bodyID:
			body.ID = r.varint(typ)
		case bodyX:
			body.X = r.float(typ)
		case bodyY:
			body.Y = r.float(typ)
		case bodyAngle:
			body.Angle = r.float(typ)
		case bodyGeometry:
			body.HasGeometry = protowire.DecodeBool(r.varint(typ))
		case bodyVertices:
			packed := r.bytes(typ)
			if r.err != nil {
				break
			}
			if len(packed)%8 != 0 {
				r.err = fmt.Errorf("vertices: %d bytes", len(packed))
				break
			}
			body.Vertices = make([]vec.Vec2Float, 0, len(packed)/8)
			for i := 0; i < len(packed); i += 8 {
				x, _ := protowire.ConsumeFixed32(packed[i:])
				y, _ := protowire.ConsumeFixed32(packed[i+4:])
				body.Vertices = append(body.Vertices, vec.Vec2Float{
					X: float64(math.Float32frombits(x)),
					Y: float64(math.Float32frombits(y)),
				})
			}
		case bodyRadius:
			body.CircleRadius = r.float(typ)
		case bodyStatic:
			body.Static = protowire.DecodeBool(r.varint(typ))
		case bodyColor:
			body.Color = string(r.bytes(typ))
		case bodyHealthPct:
			body.HealthPercent = r.float(typ)
			body.HasHealth = true
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return Body{}, fmt.Errorf("body: %w", r.err)
	}
	if body.ID == 0 {
		return Body{}, fmt.Errorf("body: missing id")
	}
	return body, nil
}

func decodeEffect(data []byte) (Effect, error) {
	var e Effect
	r := fieldReader{b: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case effKind:
			e.Kind = EffectKind(r.varint(typ))
		case effX:
			e.X = r.float(typ)
		case effY:
			e.Y = r.float(typ)
		case effAmount:
			e.Amount = r.float(typ)
		case effRadius:
			e.Radius = r.float(typ)
		case effTeam:
			e.Team = int(protowire.DecodeZigZag(r.varint(typ)))
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return Effect{}, fmt.Errorf("effect: %w", r.err)
	}
	return e, nil
}
