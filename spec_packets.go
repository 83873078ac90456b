package oap

import (
	"github.com/airborne-oap/oap/codec"
	"github.com/airborne-oap/oap/framer"
)

// EncodeParticlePacket returns the words of one SPEC particle packet of
// channel ch. A packet without timing words is continued by the next packet
// of the same channel and id.
func EncodeParticlePacket(ch Channel, id uint16, slices []codec.Bitmap, timing uint64, hasTiming bool) []uint16 {
	body := codec.EncodeRunWords(slices)
	n := len(body)
	if hasTiming {
		n += timingLen
	}
	ctl := uint16(n) & countMask
	if !hasTiming {
		ctl |= noTimingFlag
	}
	h, v := ctl, uint16(0)
	if ch == Vertical {
		h, v = 0, ctl
	}
	w := make([]uint16, 0, packetHeaderLen+n)
	w = append(w, SyncWord, h, v, id, uint16(len(slices)))
	w = append(w, body...)
	if hasTiming {
		w = append(w, uint16(timing), uint16(timing>>16), uint16(timing>>32))
	}
	return w
}

// HousekeepingPacket returns an HK packet whose fields are all zero.
func HousekeepingPacket() []uint16 {
	w := make([]uint16, housekeepingLen)
	w[0] = framer.TagHousekeeping
	return w
}

// MaskPacket returns an MK packet whose fields are all zero.
func MaskPacket() []uint16 {
	w := make([]uint16, maskLen)
	w[0] = framer.TagMask
	return w
}
