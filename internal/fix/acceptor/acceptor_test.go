package acceptor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/fixsim/internal/fix/codec"
	"github.com/abdoElHodaky/fixsim/internal/fix/session"
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

func newTestAcceptor() *Acceptor {
	eng := matching.New(sequentialID("E"), nil, nil)
	val := validate.New()
	orderIDs := sequentialID("O")

	return New(Deps{
		Logger: zap.NewNop(),
		IDFunc: sequentialID("S"),
		SessionDeps: func() session.Deps {
			return session.Deps{
				Engine:       eng,
				Validator:    val,
				OrderIDFunc:  orderIDs,
				WriteTimeout: time.Second,
			}
		},
	})
}

func TestAcceptor_AcceptsConnectionAndRunsSession(t *testing.T) {
	a := newTestAcceptor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx, "127.0.0.1:0"))
	defer a.Stop()

	addr := a.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	logon := codec.Encode(codec.MsgLogon, map[int]string{
		codec.TagSenderCompID: "CLIENT",
		codec.TagTargetCompID: "FIXSIM",
		codec.TagMsgSeqNum:    "1",
		codec.TagSendingTime:  "20260101-00:00:00.000",
		codec.TagHeartBtInt:   "30",
	})
	_, err = conn.Write(logon)
	require.NoError(t, err)

	splitter := codec.NewFrameSplitter(conn)
	raw, err := splitter.Next()
	require.NoError(t, err)
	msg, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, codec.MsgLogon, msg.MsgType)

	assert.Eventually(t, func() bool { return a.ActiveSessions() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAcceptor_StopWaitsForSessionsToDrain(t *testing.T) {
	a := newTestAcceptor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx, "127.0.0.1:0"))
	addr := a.listener.Addr().String()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return a.ActiveSessions() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.NoError(t, a.Stop())
	assert.Equal(t, 0, a.ActiveSessions())
}
