package session

import (
	"context"
	"strconv"
	"time"

	"github.com/abdoElHodaky/fixsim/internal/fix/codec"
	"github.com/abdoElHodaky/fixsim/internal/matching/validate"
	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
	"github.com/abdoElHodaky/fixsim/pkg/tradserr"
)

func (s *Session) handleAwaitingLogon(ctx context.Context, msg *codec.Message) {
	if msg.MsgType != codec.MsgLogon {
		s.sendSessionReject("expected Logon")
		return
	}

	sender, _ := msg.Get(codec.TagSenderCompID)
	target, _ := msg.Get(codec.TagTargetCompID)
	hbi, _ := msg.Get(codec.TagHeartBtInt)
	if sender == "" || target == "" {
		s.sendSessionReject("missing sender/target comp id")
		return
	}

	seconds, err := strconv.Atoi(hbi)
	if err != nil || seconds <= 0 {
		s.sendSessionReject("invalid heartbeat interval")
		return
	}

	s.mu.Lock()
	s.senderID = sender
	s.targetID = target
	s.heartbeatInterval = time.Duration(seconds) * time.Second
	s.state = StateLoggedIn
	s.mu.Unlock()

	s.armHeartbeatTimer()
	s.resetDeadTimer()

	s.sendMessage(codec.MsgLogon, map[int]string{
		codec.TagHeartBtInt: hbi,
	})
}

func (s *Session) handleLoggedIn(ctx context.Context, msg *codec.Message) {
	switch msg.MsgType {
	case codec.MsgHeartbeat:
		// Receiving one resets the silence watchdog (already done in Run)
		// and requires no reply.
	case codec.MsgNewOrderSingle:
		s.handleNewOrderSingle(ctx, msg)
	case codec.MsgOrderCancelRequest:
		s.handleCancelRequest(ctx, msg)
	case codec.MsgLogout:
		s.mu.Lock()
		s.state = StateClosing
		s.mu.Unlock()
		s.sendMessage(codec.MsgLogout, nil)
	default:
		s.sendSessionReject("unsupported message type in LoggedIn state")
	}
}

func (s *Session) handleNewOrderSingle(ctx context.Context, msg *codec.Message) {
	clOrdID, _ := msg.Get(codec.TagClOrdID)
	symbol, _ := msg.Get(codec.TagSymbol)
	sideRaw, _ := msg.Get(codec.TagSide)
	qtyRaw, _ := msg.Get(codec.TagOrderQty)
	ordTypeRaw, _ := msg.Get(codec.TagOrdType)
	priceRaw, _ := msg.Get(codec.TagPrice)

	var side fixtypes.Side
	if len(sideRaw) == 1 {
		side = fixtypes.Side(sideRaw[0])
	}
	var ordType fixtypes.OrdType
	if len(ordTypeRaw) == 1 {
		ordType = fixtypes.OrdType(ordTypeRaw[0])
	}
	qty, _ := strconv.ParseInt(qtyRaw, 10, 64)
	price, _ := strconv.ParseFloat(priceRaw, 64)

	req := validate.NewOrderRequest{
		ClOrdID: clOrdID,
		Symbol:  symbol,
		Side:    side,
		OrdType: ordType,
		Qty:     qty,
		Price:   price,
	}

	if err := s.deps.Validator.Validate(s.ID, req); err != nil {
		s.rejectNewOrder(clOrdID, err)
		return
	}

	orderID := s.deps.OrderIDFunc()
	order := &fixtypes.Order{
		OrderID:   orderID,
		ClOrdID:   clOrdID,
		SessionID: s.ID,
		Symbol:    symbol,
		Side:      side,
		OrdType:   ordType,
		Qty:       qty,
		Price:     price,
		Status:    fixtypes.OrdStatusNew,
		CreatedAt: time.Now(),
	}

	if s.deps.Registry != nil {
		s.deps.Registry.Track(orderID, s)
	}

	execs, err := s.deps.Engine.Submit(ctx, order)
	if err != nil {
		if s.deps.Registry != nil {
			s.deps.Registry.Forget(orderID)
		}
		s.rejectNewOrder(clOrdID, err)
		return
	}

	s.mu.Lock()
	s.ordersBySymbol[clOrdID] = orderID
	s.orderSymbol[orderID] = symbol
	s.mu.Unlock()

	s.persistOrder(ctx, order)
	s.replyExecutionReport(order, "")
	// Fills, including this order's own, are delivered by the bus's fill
	// router (registry.go) so that the crossed resting order's session —
	// which has nothing else on the call stack right now — gets notified
	// too, in the same place and the same way its own side does.
	for _, ex := range execs {
		s.persistExecution(ctx, ex)
	}
}

// DeliverFill sends a Filled/PartiallyFilled execution report for orderID,
// re-reading its current cumulative quantity and status from the engine
// since this session may not be the one that just called Submit.
func (s *Session) DeliverFill(orderID string, e fixtypes.Execution) {
	o, ok := s.deps.Engine.GetOrder(e.Symbol, orderID)
	if !ok {
		return
	}
	s.replyFillFromExecution(o, e)
	if o.Status == fixtypes.OrdStatusFilled && s.deps.Registry != nil {
		s.deps.Registry.Forget(orderID)
	}
}

func (s *Session) rejectNewOrder(clOrdID string, err error) {
	text := "rejected"
	if fe, ok := asFixSimError(err); ok {
		text = fe.Message
	}
	s.sendMessage(codec.MsgExecutionReport, map[int]string{
		codec.TagOrderID:   "NONE",
		codec.TagExecID:    clOrdID,
		codec.TagExecType:  "8",
		codec.TagOrdStatus: string(fixtypes.OrdStatusRejected),
		codec.TagText:      text,
	})
}

func (s *Session) handleCancelRequest(ctx context.Context, msg *codec.Message) {
	clOrdID, _ := msg.Get(codec.TagClOrdID)
	orderID, _ := msg.Get(codec.TagOrderID)
	symbol, _ := msg.Get(codec.TagSymbol)

	s.mu.Lock()
	if orderID == "" {
		orderID = s.ordersBySymbol[clOrdID]
	}
	if symbol == "" {
		symbol = s.orderSymbol[orderID]
	}
	s.mu.Unlock()

	if orderID == "" || symbol == "" {
		s.sendCancelReject(clOrdID, orderID, "Order not found")
		return
	}

	order, err := s.deps.Engine.Cancel(ctx, symbol, orderID)
	if err != nil {
		s.sendCancelReject(clOrdID, orderID, "Order not found")
		return
	}
	if s.deps.Registry != nil {
		s.deps.Registry.Forget(orderID)
	}

	s.persistOrder(ctx, order)
	s.replyExecutionReport(order, "")
}

func (s *Session) sendCancelReject(clOrdID, orderID, reason string) {
	if orderID == "" {
		orderID = "NONE"
	}
	s.sendMessage(codec.MsgOrderCancelReject, map[int]string{
		codec.TagOrderID:       orderID,
		codec.TagClOrdID:       clOrdID,
		codec.TagOrdStatus:     string(fixtypes.OrdStatusRejected),
		codec.TagCxlRejReason:  "1",
		codec.TagText:          reason,
	})
}

func (s *Session) replyExecutionReport(o *fixtypes.Order, text string) {
	execType := "0"
	switch o.Status {
	case fixtypes.OrdStatusFilled:
		execType = "F"
	case fixtypes.OrdStatusPartiallyFilled:
		execType = "F"
	case fixtypes.OrdStatusCanceled:
		execType = "4"
	case fixtypes.OrdStatusRejected:
		execType = "8"
	}
	fields := map[int]string{
		codec.TagOrderID:   o.OrderID,
		codec.TagExecID:    o.OrderID,
		codec.TagExecType:  execType,
		codec.TagOrdStatus: string(o.Status),
		codec.TagCumQty:    strconv.FormatInt(o.FilledQty, 10),
	}
	if text != "" {
		fields[codec.TagText] = text
	}
	s.sendMessage(codec.MsgExecutionReport, fields)
}

func (s *Session) replyFillFromExecution(o *fixtypes.Order, e fixtypes.Execution) {
	fields := map[int]string{
		codec.TagOrderID:   o.OrderID,
		codec.TagExecID:    e.ExecID,
		codec.TagExecType:  "F",
		codec.TagOrdStatus: string(o.Status),
		codec.TagLastQty:   strconv.FormatInt(e.LastQty, 10),
		codec.TagLastPx:    strconv.FormatFloat(e.LastPx, 'f', 2, 64),
		codec.TagCumQty:    strconv.FormatInt(o.FilledQty, 10),
	}
	s.sendMessage(codec.MsgExecutionReport, fields)
}

func (s *Session) sendHeartbeat() {
	s.sendMessage(codec.MsgHeartbeat, nil)
}

func (s *Session) sendSessionReject(reason string) {
	s.sendMessage(codec.MsgSessionReject, map[int]string{
		codec.TagText: reason,
	})
}

func asFixSimError(err error) (*tradserr.FixSimError, bool) {
	var fe *tradserr.FixSimError
	if tradserr.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
