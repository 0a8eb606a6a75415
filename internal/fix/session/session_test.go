package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/fixsim/internal/eventbus"
	"github.com/abdoElHodaky/fixsim/internal/fix/codec"
	"github.com/abdoElHodaky/fixsim/internal/matching"
	"github.com/abdoElHodaky/fixsim/internal/matching/validate"
)

func sequentialID(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func newTestSession(t *testing.T, peer net.Conn) *Session {
	t.Helper()
	eng := matching.New(sequentialID("E"), nil, nil)
	deps := Deps{
		Engine:      eng,
		Validator:   validate.New(),
		OrderIDFunc: sequentialID("O"),
		WriteTimeout: time.Second,
	}
	return New("sess-1", peer, deps)
}

func logonFrame(seq int) []byte {
	return codec.Encode(codec.MsgLogon, map[int]string{
		codec.TagSenderCompID: "CLIENT",
		codec.TagTargetCompID: "FIXSIM",
		codec.TagMsgSeqNum:    itoa(seq),
		codec.TagSendingTime:  "20260101-00:00:00.000",
		codec.TagHeartBtInt:   "30",
	})
}

func newOrderFrame(seq int, clOrdID, symbol, side, ordType, qty, price string) []byte {
	f := map[int]string{
		codec.TagSenderCompID: "CLIENT",
		codec.TagTargetCompID: "FIXSIM",
		codec.TagMsgSeqNum:    itoa(seq),
		codec.TagSendingTime:  "20260101-00:00:00.000",
		codec.TagClOrdID:      clOrdID,
		codec.TagSymbol:       symbol,
		codec.TagSide:         side,
		codec.TagOrdType:      ordType,
		codec.TagOrderQty:     qty,
	}
	if price != "" {
		f[codec.TagPrice] = price
	}
	return codec.Encode(codec.MsgNewOrderSingle, f)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func readFrame(t *testing.T, conn net.Conn) *codec.Message {
	t.Helper()
	splitter := codec.NewFrameSplitter(conn)
	raw, err := splitter.Next()
	require.NoError(t, err)
	msg, err := codec.Decode(raw)
	require.NoError(t, err)
	return msg
}

func TestSession_LogonTransitionsToLoggedIn(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	s := newTestSession(t, serverConn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_, err := clientConn.Write(logonFrame(1))
	require.NoError(t, err)

	reply := readFrame(t, clientConn)
	assert.Equal(t, codec.MsgLogon, reply.MsgType)
	assert.Eventually(t, func() bool { return s.State() == StateLoggedIn }, time.Second, 5*time.Millisecond)
}

func TestSession_NewOrderAcceptedAfterLogon(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	s := newTestSession(t, serverConn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_, err := clientConn.Write(logonFrame(1))
	require.NoError(t, err)
	_ = readFrame(t, clientConn) // logon reply

	_, err = clientConn.Write(newOrderFrame(2, "cl-1", "AAPL", "1", "2", "100", "10.00"))
	require.NoError(t, err)

	reply := readFrame(t, clientConn)
	assert.Equal(t, codec.MsgExecutionReport, reply.MsgType)
	status, _ := reply.Get(codec.TagOrdStatus)
	assert.Equal(t, "0", status)
}

func TestSession_NewOrderRejectedForUnknownSymbol(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	s := newTestSession(t, serverConn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_, err := clientConn.Write(logonFrame(1))
	require.NoError(t, err)
	_ = readFrame(t, clientConn)

	_, err = clientConn.Write(newOrderFrame(2, "cl-1", "ZZZZ", "1", "2", "100", "10.00"))
	require.NoError(t, err)

	reply := readFrame(t, clientConn)
	assert.Equal(t, codec.MsgExecutionReport, reply.MsgType)
	status, _ := reply.Get(codec.TagOrdStatus)
	assert.Equal(t, "8", status)
}

func TestSession_DuplicateClOrdIDRejected(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	s := newTestSession(t, serverConn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_, err := clientConn.Write(logonFrame(1))
	require.NoError(t, err)
	_ = readFrame(t, clientConn)

	_, err = clientConn.Write(newOrderFrame(2, "cl-1", "AAPL", "1", "2", "100", "10.00"))
	require.NoError(t, err)
	_ = readFrame(t, clientConn)

	_, err = clientConn.Write(newOrderFrame(3, "cl-1", "AAPL", "1", "2", "100", "10.00"))
	require.NoError(t, err)
	reply := readFrame(t, clientConn)
	status, _ := reply.Get(codec.TagOrdStatus)
	assert.Equal(t, "8", status)
}

func TestSession_SequenceGapTriggersReject(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	s := newTestSession(t, serverConn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_, err := clientConn.Write(logonFrame(1))
	require.NoError(t, err)
	_ = readFrame(t, clientConn)

	_, err = clientConn.Write(newOrderFrame(5, "cl-1", "AAPL", "1", "2", "100", "10.00"))
	require.NoError(t, err)

	reply := readFrame(t, clientConn)
	assert.Equal(t, codec.MsgSessionReject, reply.MsgType)
}

func TestSession_CrossedOrderNotifiesRestingSession(t *testing.T) {
	bus, err := eventbus.New(nil)
	require.NoError(t, err)
	defer bus.Close()

	eng := matching.New(sequentialID("E"), nil, bus)
	registry := NewOrderDirectory()
	RegisterFillRouter(bus, registry)

	sellServer, sellClient := net.Pipe()
	defer sellClient.Close()
	sellSession := New("seller", sellServer, Deps{
		Engine:       eng,
		Validator:    validate.New(),
		Bus:          bus,
		OrderIDFunc:  sequentialID("O"),
		Registry:     registry,
		WriteTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sellSession.Run(ctx)

	_, err = sellClient.Write(logonFrame(1))
	require.NoError(t, err)
	_ = readFrame(t, sellClient) // logon reply

	_, err = sellClient.Write(newOrderFrame(2, "sell-1", "AAPL", "2", "2", "100", "10.00"))
	require.NoError(t, err)
	_ = readFrame(t, sellClient) // New ack for the resting sell

	buyServer, buyClient := net.Pipe()
	defer buyClient.Close()
	buySession := New("buyer", buyServer, Deps{
		Engine:       eng,
		Validator:    validate.New(),
		Bus:          bus,
		OrderIDFunc:  sequentialID("P"),
		Registry:     registry,
		WriteTimeout: time.Second,
	})
	go buySession.Run(ctx)

	_, err = buyClient.Write(logonFrame(1))
	require.NoError(t, err)
	_ = readFrame(t, buyClient) // logon reply

	_, err = buyClient.Write(newOrderFrame(2, "buy-1", "AAPL", "1", "2", "100", "10.00"))
	require.NoError(t, err)
	_ = readFrame(t, buyClient) // New ack for the aggressing buy

	buyFill := readFrame(t, buyClient)
	assert.Equal(t, codec.MsgExecutionReport, buyFill.MsgType)
	buyLastQty, _ := buyFill.Get(codec.TagLastQty)
	assert.Equal(t, "100", buyLastQty)

	sellFill := readFrame(t, sellClient)
	assert.Equal(t, codec.MsgExecutionReport, sellFill.MsgType)
	sellLastQty, _ := sellFill.Get(codec.TagLastQty)
	assert.Equal(t, "100", sellLastQty)
}

func TestSession_CancelUnknownOrderRejected(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	s := newTestSession(t, serverConn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_, err := clientConn.Write(logonFrame(1))
	require.NoError(t, err)
	_ = readFrame(t, clientConn)

	cancelFrame := codec.Encode(codec.MsgOrderCancelRequest, map[int]string{
		codec.TagSenderCompID: "CLIENT",
		codec.TagTargetCompID: "FIXSIM",
		codec.TagMsgSeqNum:    "2",
		codec.TagSendingTime:  "20260101-00:00:00.000",
		codec.TagClOrdID:      "cancel-1",
		codec.TagOrderID:      "does-not-exist",
		codec.TagSymbol:       "AAPL",
		codec.TagSide:         "1",
	})
	_, err = clientConn.Write(cancelFrame)
	require.NoError(t, err)

	reply := readFrame(t, clientConn)
	assert.Equal(t, codec.MsgOrderCancelReject, reply.MsgType)
}

func TestSession_MalformedChecksumIsSilentlyDropped(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	s := newTestSession(t, serverConn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_, err := clientConn.Write(logonFrame(1))
	require.NoError(t, err)
	_ = readFrame(t, clientConn)

	bad := newOrderFrame(2, "cl-1", "AAPL", "1", "2", "100", "10.00")
	bad[len(bad)-4] = 'X' // corrupt the checksum digits
	_, err = clientConn.Write(bad)
	require.NoError(t, err)

	// Follow with a well-formed heartbeat so the session loop is proven
	// alive and the corrupted frame produced no reply of its own.
	hb := codec.Encode(codec.MsgHeartbeat, map[int]string{
		codec.TagSenderCompID: "CLIENT",
		codec.TagTargetCompID: "FIXSIM",
		codec.TagMsgSeqNum:    "2",
		codec.TagSendingTime:  "20260101-00:00:00.000",
	})
	_, err = clientConn.Write(hb)
	require.NoError(t, err)

	// No reply is expected for a Heartbeat; the session stays LoggedIn.
	assert.Eventually(t, func() bool { return s.State() == StateLoggedIn }, time.Second, 5*time.Millisecond)
}
