// Package codec implements the FIX 4.2 tag-value wire format: SOH-delimited
// framing, envelope field ordering, body-length and checksum computation,
// and the typed parse errors a Session reacts to.
package codec

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/abdoElHodaky/fixsim/pkg/tradserr"
)

// SOH is the FIX field delimiter, byte 0x01.
const SOH byte = 0x01

// BeginString is the only supported FIX version (spec non-goal: 4.2 only).
const BeginString = "FIX.4.2"

// Tag numbers used by the envelope and the supported message subset.
const (
	TagBeginString   = 8
	TagBodyLength    = 9
	TagMsgType       = 35
	TagSenderCompID  = 49
	TagTargetCompID  = 56
	TagMsgSeqNum     = 34
	TagSendingTime   = 52
	TagCheckSum      = 10
	TagHeartBtInt    = 108
	TagClOrdID       = 11
	TagSymbol        = 55
	TagSide          = 54
	TagOrderQty      = 38
	TagOrdType       = 40
	TagPrice         = 44
	TagTransactTime  = 60
	TagOrderID       = 37
	TagExecID        = 17
	TagExecType      = 150
	TagOrdStatus     = 39
	TagLastQty       = 32
	TagLastPx        = 31
	TagCumQty        = 14
	TagAvgPx         = 6
	TagText          = 58
	TagCxlRejReason  = 434
)

// Supported message types (spec §4.1 / §6).
const (
	MsgLogon              = "A"
	MsgHeartbeat          = "0"
	MsgLogout             = "5"
	MsgNewOrderSingle     = "D"
	MsgOrderCancelRequest = "F"
	MsgExecutionReport    = "8"
	MsgOrderCancelReject  = "9"
	MsgSessionReject      = "3"
)

var envelopeRequired = []int{TagBeginString, TagBodyLength, TagMsgType, TagSenderCompID, TagTargetCompID, TagMsgSeqNum, TagSendingTime}

// Message is a decoded FIX message: tag -> value, plus the exact bytes it
// was parsed from (needed because the checksum is computed over the bytes
// as emitted, never a re-canonicalized form).
type Message struct {
	MsgType string
	Fields  map[int]string
	Raw     []byte
}

// Get returns a field's value and whether it was present.
func (m *Message) Get(tag int) (string, bool) {
	v, ok := m.Fields[tag]
	return v, ok
}

// Encode produces the byte-exact FIX message for msgType and fields.
// Fields must not include 8, 9, 35 or 10 — those are positioned and computed
// by Encode itself. Remaining tags are emitted in ascending numeric order,
// which is the only ordering Encode guarantees beyond the envelope.
func Encode(msgType string, fields map[int]string) []byte {
	tags := make([]int, 0, len(fields))
	for t := range fields {
		switch t {
		case TagBeginString, TagBodyLength, TagMsgType, TagCheckSum:
			continue
		}
		tags = append(tags, t)
	}
	sort.Ints(tags)

	var body bytes.Buffer
	writeField(&body, TagMsgType, msgType)
	for _, t := range tags {
		writeField(&body, t, fields[t])
	}

	var head bytes.Buffer
	writeField(&head, TagBeginString, BeginString)
	writeField(&head, TagBodyLength, strconv.Itoa(body.Len()))
	head.Write(body.Bytes())

	sum := checksum(head.Bytes())

	var out bytes.Buffer
	out.Write(head.Bytes())
	writeField(&out, TagCheckSum, fmt.Sprintf("%03d", sum))
	return out.Bytes()
}

func writeField(buf *bytes.Buffer, tag int, value string) {
	buf.WriteString(strconv.Itoa(tag))
	buf.WriteByte('=')
	buf.WriteString(value)
	buf.WriteByte(SOH)
}

func checksum(b []byte) int {
	var sum int
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}

// Decode parses a single, complete FIX message. raw must contain exactly one
// message (no trailing bytes) — use FrameSplitter to carve messages out of a
// stream of concatenated frames first.
func Decode(raw []byte) (*Message, error) {
	if len(raw) == 0 || !bytes.HasPrefix(raw, []byte("8=")) {
		return nil, tradserr.New(tradserr.ErrMalformedFrame, "message does not start with tag 8").WithDetail("raw_len", len(raw))
	}
	if !bytes.Contains(raw, []byte{SOH}) {
		return nil, tradserr.New(tradserr.ErrMalformedFrame, "no SOH delimiter found")
	}

	parts := bytes.Split(raw, []byte{SOH})
	// Split on a trailing SOH leaves one empty trailing element; drop it.
	if len(parts) > 0 && len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	} else {
		return nil, tradserr.New(tradserr.ErrMalformedFrame, "message not SOH-terminated")
	}

	fields := make(map[int]string, len(parts))
	var order []int
	for _, p := range parts {
		eq := bytes.IndexByte(p, '=')
		if eq <= 0 {
			return nil, tradserr.New(tradserr.ErrMalformedFrame, "field missing '='").WithDetail("field", string(p))
		}
		tag, err := strconv.Atoi(string(p[:eq]))
		if err != nil {
			return nil, tradserr.New(tradserr.ErrMalformedFrame, "non-numeric tag").WithDetail("field", string(p))
		}
		fields[tag] = string(p[eq+1:])
		order = append(order, tag)
	}

	if order[0] != TagBeginString {
		return nil, tradserr.New(tradserr.ErrMalformedFrame, "tag 8 must be first")
	}
	if len(order) < 2 || order[1] != TagBodyLength {
		return nil, tradserr.New(tradserr.ErrMalformedFrame, "tag 9 must follow tag 8")
	}
	if len(order) < 3 || order[2] != TagMsgType {
		return nil, tradserr.New(tradserr.ErrMalformedFrame, "tag 35 must follow tag 9")
	}
	if order[len(order)-1] != TagCheckSum {
		return nil, tradserr.New(tradserr.ErrMalformedFrame, "tag 10 must be last")
	}

	// Recompute the checksum over the exact bytes preceding "10=...".
	tail := []byte(fmt.Sprintf("%d=", TagCheckSum))
	idx := bytes.LastIndex(raw, tail)
	if idx < 0 {
		return nil, tradserr.New(tradserr.ErrMalformedFrame, "checksum field not found")
	}
	head := raw[:idx]
	wantSum, err := strconv.Atoi(fields[TagCheckSum])
	if err != nil || len(fields[TagCheckSum]) != 3 {
		return nil, tradserr.New(tradserr.ErrChecksumMismatch, "checksum field malformed").WithDetail("value", fields[TagCheckSum])
	}
	if got := checksum(head); got != wantSum {
		return nil, tradserr.New(tradserr.ErrChecksumMismatch, "checksum mismatch").
			WithDetail("expected", wantSum).WithDetail("computed", got)
	}

	for _, tag := range envelopeRequired {
		if _, ok := fields[tag]; !ok {
			return nil, tradserr.New(tradserr.ErrMissingEnvelopeField, "missing required envelope field").WithDetail("tag", tag)
		}
	}

	msgType := fields[TagMsgType]
	if err := validateMandatory(msgType, fields); err != nil {
		return nil, err
	}

	return &Message{MsgType: msgType, Fields: fields, Raw: raw}, nil
}

var mandatoryByType = map[string][]int{
	MsgLogon:              {TagHeartBtInt},
	MsgNewOrderSingle:      {TagClOrdID, TagSymbol, TagSide, TagOrderQty, TagOrdType},
	MsgOrderCancelRequest:  {TagClOrdID, TagOrderID, TagSymbol, TagSide},
	MsgExecutionReport:     {TagOrderID, TagExecID, TagExecType, TagOrdStatus},
	MsgOrderCancelReject:   {TagOrderID, TagClOrdID, TagOrdStatus},
}

func validateMandatory(msgType string, fields map[int]string) error {
	required, known := mandatoryByType[msgType]
	switch msgType {
	case MsgLogon, MsgHeartbeat, MsgLogout, MsgNewOrderSingle, MsgOrderCancelRequest,
		MsgExecutionReport, MsgOrderCancelReject, MsgSessionReject:
		// known message type
	default:
		return tradserr.New(tradserr.ErrUnknownMandatoryField, "unsupported message type").WithDetail("msg_type", msgType)
	}
	if !known {
		return nil
	}
	for _, tag := range required {
		if _, ok := fields[tag]; !ok {
			return tradserr.New(tradserr.ErrUnknownMandatoryField, "missing mandatory field for message type").
				WithDetail("msg_type", msgType).WithDetail("tag", tag)
		}
	}
	if msgType == MsgNewOrderSingle && fields[TagOrdType] == "2" {
		if _, ok := fields[TagPrice]; !ok {
			return tradserr.New(tradserr.ErrUnknownMandatoryField, "price required for limit order").WithDetail("tag", TagPrice)
		}
	}
	return nil
}
