package session

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/fixsim/internal/fix/codec"
	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
)

// sendMessage encodes and writes a frame to the peer. When a WritePool is
// configured the socket write is submitted to the shared ants pool, so a
// slow peer does not block the goroutine that produced the report. Without
// a pool, or when Submit returns an error, the write runs synchronously on
// the calling goroutine.
func (s *Session) sendMessage(msgType string, fields map[int]string) {
	if fields == nil {
		fields = map[int]string{}
	}
	fields[codec.TagSenderCompID] = s.targetCompIDForSend()
	fields[codec.TagTargetCompID] = s.senderCompIDForSend()
	fields[codec.TagMsgSeqNum] = strconv.FormatUint(s.nextOutgoingSeq(), 10)
	fields[codec.TagSendingTime] = time.Now().UTC().Format("20060102-15:04:05.000")

	frame := codec.Encode(msgType, fields)

	write := func() {
		s.mu.Lock()
		conn := s.conn
		timeout := s.deps.WriteTimeout
		s.mu.Unlock()

		if conn == nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(timeout))
		if _, err := conn.Write(frame); err != nil {
			s.logf(zap.WarnLevel, "write failed, closing session", zap.Error(err))
			conn.Close()
		}
	}

	if s.deps.WritePool != nil {
		if err := s.deps.WritePool.Submit(write); err != nil {
			// Submit refused the task (e.g. pool closed or overloaded): fall
			// back to a synchronous write rather than dropping the frame.
			write()
		}
		return
	}
	write()
}

func (s *Session) targetCompIDForSend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetID
}

func (s *Session) senderCompIDForSend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.senderID
}

func (s *Session) nextOutgoingSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outgoingSeq++
	return s.outgoingSeq
}

func (s *Session) persistOrder(ctx context.Context, o *fixtypes.Order) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.SaveOrder(ctx, o.Snapshot()); err != nil {
		s.logf(zap.WarnLevel, "failed to persist order", zap.String("order_id", o.OrderID), zap.Error(err))
	}
}

func (s *Session) persistExecution(ctx context.Context, e fixtypes.Execution) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.SaveExecution(ctx, e); err != nil {
		s.logf(zap.WarnLevel, "failed to persist execution", zap.String("exec_id", e.ExecID), zap.Error(err))
	}
}
